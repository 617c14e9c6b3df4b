package content

import (
	"errors"
	"fmt"
)

// NodeKind enumerates the closed set of rich-text node types.
type NodeKind string

const (
	// NodeKindHeading is a section heading with a level between 1 and 6.
	NodeKindHeading NodeKind = "heading"
	// NodeKindParagraph is a plain text block.
	NodeKindParagraph NodeKind = "paragraph"
	// NodeKindBlockquote is a quoted text block.
	NodeKindBlockquote NodeKind = "blockquote"
	// NodeKindCodeBlock is a preformatted code block with an optional language.
	NodeKindCodeBlock NodeKind = "code_block"
	// NodeKindList is an ordered or unordered list of list items.
	NodeKindList NodeKind = "list"
	// NodeKindListItem is a single entry inside a list.
	NodeKindListItem NodeKind = "list_item"
	// NodeKindImage is an embedded image with a required source reference.
	NodeKindImage NodeKind = "image"
	// NodeKindDivider is a horizontal rule without content.
	NodeKindDivider NodeKind = "divider"
	// NodeKindUnknown preserves nodes produced by newer editors without dropping them.
	NodeKindUnknown NodeKind = "unknown"
)

// MarkType enumerates inline formatting marks applied to spans.
type MarkType string

const (
	// MarkTypeBold renders a span in bold.
	MarkTypeBold MarkType = "bold"
	// MarkTypeItalic renders a span in italics.
	MarkTypeItalic MarkType = "italic"
	// MarkTypeCode renders a span as inline code.
	MarkTypeCode MarkType = "code"
	// MarkTypeLink turns a span into a hyperlink; requires an href.
	MarkTypeLink MarkType = "link"
)

// SchemaVersion identifies the current content tree schema.
const SchemaVersion = 1

const maxHeadingLevel = 6

// ErrMalformedContent indicates a content tree that fails structural validation.
var ErrMalformedContent = errors.New("content: malformed content")

// Mark is a single inline formatting mark. Href is set only for links.
type Mark struct {
	Type MarkType `json:"type"`
	Href string   `json:"href,omitempty"`
}

// Span is a run of text sharing one set of marks.
type Span struct {
	Text  string `json:"text"`
	Marks []Mark `json:"marks,omitempty"`
}

// Node is one tagged node of the content tree. Which fields are meaningful
// depends on Kind; Validate rejects nodes whose required fields are absent.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Level    int      `json:"level,omitempty"`
	Ordered  bool     `json:"ordered,omitempty"`
	Language string   `json:"language,omitempty"`
	Source   string   `json:"source,omitempty"`
	AltText  string   `json:"alt_text,omitempty"`
	Caption  string   `json:"caption,omitempty"`
	RawKind  string   `json:"raw_kind,omitempty"`
	RawJSON  string   `json:"raw_json,omitempty"`
	Spans    []Span   `json:"spans,omitempty"`
	Children []Node   `json:"children,omitempty"`
}

// Tree is the full rich-text document.
type Tree struct {
	SchemaVersion int    `json:"schema_version"`
	Nodes         []Node `json:"nodes"`
}

// NewTree wraps the provided nodes in a tree at the current schema version.
func NewTree(nodes []Node) Tree {
	return Tree{SchemaVersion: SchemaVersion, Nodes: nodes}
}

// EmptyTree returns the canonical empty document: a single empty paragraph.
func EmptyTree() Tree {
	return NewTree([]Node{{Kind: NodeKindParagraph}})
}

// Validate checks the full tree against the structural rules of the schema.
func Validate(tree Tree) error {
	if tree.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %d", ErrMalformedContent, tree.SchemaVersion)
	}
	if len(tree.Nodes) == 0 {
		return fmt.Errorf("%w: tree has no nodes", ErrMalformedContent)
	}
	for index, node := range tree.Nodes {
		if err := validateNode(node, fmt.Sprintf("node %d", index), false); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(node Node, path string, insideList bool) error {
	switch node.Kind {
	case NodeKindHeading:
		if node.Level < 1 || node.Level > maxHeadingLevel {
			return fmt.Errorf("%w: %s: heading level %d out of range", ErrMalformedContent, path, node.Level)
		}
	case NodeKindParagraph, NodeKindBlockquote, NodeKindCodeBlock:
	case NodeKindList:
		if len(node.Children) == 0 {
			return fmt.Errorf("%w: %s: list has no items", ErrMalformedContent, path)
		}
		for index, child := range node.Children {
			if child.Kind != NodeKindListItem {
				return fmt.Errorf("%w: %s: list child %d is %s, want list_item", ErrMalformedContent, path, index, child.Kind)
			}
			if err := validateNode(child, fmt.Sprintf("%s.%d", path, index), true); err != nil {
				return err
			}
		}
		return validateSpans(node.Spans, path)
	case NodeKindListItem:
		if !insideList {
			return fmt.Errorf("%w: %s: list_item outside of list", ErrMalformedContent, path)
		}
		for index, child := range node.Children {
			if child.Kind != NodeKindList {
				return fmt.Errorf("%w: %s: list_item child %d is %s, want list", ErrMalformedContent, path, index, child.Kind)
			}
			if err := validateNode(child, fmt.Sprintf("%s.%d", path, index), false); err != nil {
				return err
			}
		}
		return validateSpans(node.Spans, path)
	case NodeKindImage:
		if node.Source == "" {
			return fmt.Errorf("%w: %s: image without source", ErrMalformedContent, path)
		}
	case NodeKindDivider:
		if len(node.Spans) > 0 || len(node.Children) > 0 {
			return fmt.Errorf("%w: %s: divider must be empty", ErrMalformedContent, path)
		}
	case NodeKindUnknown:
		if node.RawKind == "" {
			return fmt.Errorf("%w: %s: unknown node without raw kind", ErrMalformedContent, path)
		}
	default:
		return fmt.Errorf("%w: %s: unrecognized kind %q", ErrMalformedContent, path, node.Kind)
	}
	if node.Kind != NodeKindList && node.Kind != NodeKindListItem && len(node.Children) > 0 {
		return fmt.Errorf("%w: %s: %s must not have children", ErrMalformedContent, path, node.Kind)
	}
	return validateSpans(node.Spans, path)
}

func validateSpans(spans []Span, path string) error {
	for index, span := range spans {
		for _, mark := range span.Marks {
			switch mark.Type {
			case MarkTypeBold, MarkTypeItalic, MarkTypeCode:
				if mark.Href != "" {
					return fmt.Errorf("%w: %s: span %d: %s mark with href", ErrMalformedContent, path, index, mark.Type)
				}
			case MarkTypeLink:
				if mark.Href == "" {
					return fmt.Errorf("%w: %s: span %d: link mark without href", ErrMalformedContent, path, index)
				}
			default:
				return fmt.Errorf("%w: %s: span %d: unrecognized mark %q", ErrMalformedContent, path, index, mark.Type)
			}
		}
	}
	return nil
}

// PlainText flattens the node's spans and children into display text.
func (node Node) PlainText() string {
	text := ""
	for _, span := range node.Spans {
		text += span.Text
	}
	for _, child := range node.Children {
		childText := child.PlainText()
		if childText == "" {
			continue
		}
		if text != "" {
			text += " "
		}
		text += childText
	}
	return text
}
