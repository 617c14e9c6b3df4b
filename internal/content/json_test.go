package content

import (
	"errors"
	"testing"
)

func TestEncodeTreeRoundTrip(t *testing.T) {
	tree := NewTree([]Node{
		{Kind: NodeKindHeading, Level: 2, Spans: []Span{{Text: "Title"}}},
		{Kind: NodeKindParagraph, Spans: []Span{{Text: "body", Marks: []Mark{{Type: MarkTypeItalic}}}}},
	})

	encoded, err := EncodeTree(tree)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeTree(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if Fingerprint(decoded) != Fingerprint(tree) {
		t.Fatalf("expected round-trip to preserve the tree")
	}
}

func TestEncodeTreeRejectsMalformedTree(t *testing.T) {
	_, err := EncodeTree(NewTree([]Node{{Kind: NodeKindImage}}))
	if !errors.Is(err, ErrMalformedContent) {
		t.Fatalf("expected ErrMalformedContent, got %v", err)
	}
}

func TestDecodeTreeRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeTree("{not json")
	if !errors.Is(err, ErrMalformedContent) {
		t.Fatalf("expected ErrMalformedContent, got %v", err)
	}
}

func TestDecodeTreeFoldsUnrecognizedKindIntoUnknown(t *testing.T) {
	encoded := `{"schema_version":1,"nodes":[{"kind":"gallery","images":["a.png"]}]}`
	decoded, err := DecodeTree(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded.Nodes) != 1 {
		t.Fatalf("expected one node, got %d", len(decoded.Nodes))
	}
	node := decoded.Nodes[0]
	if node.Kind != NodeKindUnknown {
		t.Fatalf("expected unknown kind, got %s", node.Kind)
	}
	if node.RawKind != "gallery" {
		t.Fatalf("expected raw kind to be preserved, got %q", node.RawKind)
	}
	if node.RawJSON == "" {
		t.Fatalf("expected raw payload to be preserved")
	}
}

func TestFingerprintIsStableAndDiscriminating(t *testing.T) {
	first := NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "Hello"}}}})
	second := NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "Hello"}}}})
	changed := NewTree([]Node{{Kind: NodeKindParagraph, Spans: []Span{{Text: "Hello!"}}}})

	if Fingerprint(first) != Fingerprint(second) {
		t.Fatalf("expected identical trees to share a fingerprint")
	}
	if Fingerprint(first) == Fingerprint(changed) {
		t.Fatalf("expected differing trees to differ in fingerprint")
	}
}
