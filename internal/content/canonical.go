package content

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Fingerprint returns the hex-encoded sha256 digest of the tree's canonical
// byte form. Two trees share a fingerprint exactly when they are structurally
// identical, independent of JSON field ordering or whitespace.
func Fingerprint(tree Tree) string {
	sum := sha256.Sum256(CanonicalBytes(tree))
	return hex.EncodeToString(sum[:])
}

// CanonicalBytes produces a deterministic byte serialization of the tree.
// Every field is written in a fixed order with unambiguous length prefixes.
func CanonicalBytes(tree Tree) []byte {
	buffer := make([]byte, 0, 256)
	buffer = binary.AppendUvarint(buffer, uint64(tree.SchemaVersion))
	buffer = binary.AppendUvarint(buffer, uint64(len(tree.Nodes)))
	for _, node := range tree.Nodes {
		buffer = appendCanonicalNode(buffer, node)
	}
	return buffer
}

func appendCanonicalNode(buffer []byte, node Node) []byte {
	buffer = appendCanonicalString(buffer, string(node.Kind))
	buffer = binary.AppendUvarint(buffer, uint64(node.Level))
	buffer = appendCanonicalBool(buffer, node.Ordered)
	buffer = appendCanonicalString(buffer, node.Language)
	buffer = appendCanonicalString(buffer, node.Source)
	buffer = appendCanonicalString(buffer, node.AltText)
	buffer = appendCanonicalString(buffer, node.Caption)
	buffer = appendCanonicalString(buffer, node.RawKind)
	buffer = appendCanonicalString(buffer, node.RawJSON)
	buffer = binary.AppendUvarint(buffer, uint64(len(node.Spans)))
	for _, span := range node.Spans {
		buffer = appendCanonicalString(buffer, span.Text)
		buffer = binary.AppendUvarint(buffer, uint64(len(span.Marks)))
		for _, mark := range span.Marks {
			buffer = appendCanonicalString(buffer, string(mark.Type))
			buffer = appendCanonicalString(buffer, mark.Href)
		}
	}
	buffer = binary.AppendUvarint(buffer, uint64(len(node.Children)))
	for _, child := range node.Children {
		buffer = appendCanonicalNode(buffer, child)
	}
	return buffer
}

func appendCanonicalString(buffer []byte, value string) []byte {
	buffer = binary.AppendUvarint(buffer, uint64(len(value)))
	return append(buffer, value...)
}

func appendCanonicalBool(buffer []byte, value bool) []byte {
	if value {
		return append(buffer, 1)
	}
	return append(buffer, 0)
}
