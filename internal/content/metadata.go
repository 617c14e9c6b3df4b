package content

import "strings"

// Metadata holds the listing fields derived from a content tree.
type Metadata struct {
	Title       string
	Subtitle    string
	CoverSource string
}

// DeriveMetadata recomputes listing metadata from the tree. Derivation is pure
// and total: absent fields come back empty, never as an error.
func DeriveMetadata(tree Tree) Metadata {
	derived := Metadata{}
	titleIndex := -1
	for index, node := range tree.Nodes {
		if node.Kind == NodeKindHeading {
			derived.Title = strings.TrimSpace(node.PlainText())
			titleIndex = index
			break
		}
	}
	for index, node := range tree.Nodes {
		if index <= titleIndex {
			continue
		}
		if !isTextBlock(node.Kind) {
			continue
		}
		text := strings.TrimSpace(node.PlainText())
		if text == "" {
			continue
		}
		derived.Subtitle = text
		break
	}
	derived.CoverSource = firstImageSource(tree.Nodes)
	return derived
}

func isTextBlock(kind NodeKind) bool {
	switch kind {
	case NodeKindParagraph, NodeKindBlockquote, NodeKindCodeBlock, NodeKindList:
		return true
	default:
		return false
	}
}

func firstImageSource(nodes []Node) string {
	for _, node := range nodes {
		if node.Kind == NodeKindImage {
			return node.Source
		}
		if source := firstImageSource(node.Children); source != "" {
			return source
		}
	}
	return ""
}
