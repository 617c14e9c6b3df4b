package content

import (
	"errors"
	"testing"
)

func TestValidateAcceptsWellFormedTree(t *testing.T) {
	tree := NewTree([]Node{
		{Kind: NodeKindHeading, Level: 1, Spans: []Span{{Text: "Hello"}}},
		{Kind: NodeKindParagraph, Spans: []Span{
			{Text: "World", Marks: []Mark{{Type: MarkTypeBold}}},
			{Text: "link", Marks: []Mark{{Type: MarkTypeLink, Href: "https://example.com"}}},
		}},
		{Kind: NodeKindList, Ordered: true, Children: []Node{
			{Kind: NodeKindListItem, Spans: []Span{{Text: "first"}}},
			{Kind: NodeKindListItem, Children: []Node{
				{Kind: NodeKindList, Children: []Node{
					{Kind: NodeKindListItem, Spans: []Span{{Text: "nested"}}},
				}},
			}},
		}},
		{Kind: NodeKindImage, Source: "media/cover.png", AltText: "cover"},
		{Kind: NodeKindDivider},
		{Kind: NodeKindUnknown, RawKind: "embed", RawJSON: `{"kind":"embed"}`},
	})
	if err := Validate(tree); err != nil {
		t.Fatalf("expected tree to validate, got %v", err)
	}
}

func TestValidateRejectsMalformedNodes(t *testing.T) {
	cases := []struct {
		name string
		tree Tree
	}{
		{name: "wrong schema version", tree: Tree{SchemaVersion: 99, Nodes: []Node{{Kind: NodeKindParagraph}}}},
		{name: "empty tree", tree: NewTree(nil)},
		{name: "heading level zero", tree: NewTree([]Node{{Kind: NodeKindHeading}})},
		{name: "heading level seven", tree: NewTree([]Node{{Kind: NodeKindHeading, Level: 7}})},
		{name: "image without source", tree: NewTree([]Node{{Kind: NodeKindImage}})},
		{name: "empty list", tree: NewTree([]Node{{Kind: NodeKindList}})},
		{name: "list with paragraph child", tree: NewTree([]Node{{Kind: NodeKindList, Children: []Node{{Kind: NodeKindParagraph}}}})},
		{name: "top level list item", tree: NewTree([]Node{{Kind: NodeKindListItem}})},
		{name: "paragraph with children", tree: NewTree([]Node{{Kind: NodeKindParagraph, Children: []Node{{Kind: NodeKindParagraph}}}})},
		{name: "divider with spans", tree: NewTree([]Node{{Kind: NodeKindDivider, Spans: []Span{{Text: "x"}}}})},
		{name: "unknown without raw kind", tree: NewTree([]Node{{Kind: NodeKindUnknown}})},
		{name: "unrecognized kind", tree: NewTree([]Node{{Kind: NodeKind("table")}})},
		{name: "link without href", tree: NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "x", Marks: []Mark{{Type: MarkTypeLink}}}}}})},
		{name: "bold with href", tree: NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "x", Marks: []Mark{{Type: MarkTypeBold, Href: "https://example.com"}}}}}})},
		{name: "unrecognized mark", tree: NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "x", Marks: []Mark{{Type: MarkType("glow")}}}}}})},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			err := Validate(testCase.tree)
			if !errors.Is(err, ErrMalformedContent) {
				t.Fatalf("expected ErrMalformedContent, got %v", err)
			}
		})
	}
}

func TestEmptyTreeValidates(t *testing.T) {
	if err := Validate(EmptyTree()); err != nil {
		t.Fatalf("expected empty tree to validate, got %v", err)
	}
}

func TestPlainTextJoinsSpansAndChildren(t *testing.T) {
	node := Node{Kind: NodeKindList, Children: []Node{
		{Kind: NodeKindListItem, Spans: []Span{{Text: "first"}}},
		{Kind: NodeKindListItem, Spans: []Span{{Text: "second"}}},
	}}
	if text := node.PlainText(); text != "first second" {
		t.Fatalf("expected joined text, got %q", text)
	}
}
