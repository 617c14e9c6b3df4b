package content

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes a node, folding unrecognized kinds into the unknown
// variant so documents written by newer editors survive a round-trip.
func (node *Node) UnmarshalJSON(data []byte) error {
	type nodeAlias Node
	var decoded nodeAlias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	switch decoded.Kind {
	case NodeKindHeading, NodeKindParagraph, NodeKindBlockquote, NodeKindCodeBlock,
		NodeKindList, NodeKindListItem, NodeKindImage, NodeKindDivider, NodeKindUnknown:
		*node = Node(decoded)
		return nil
	default:
		raw := new(bytes.Buffer)
		if err := json.Compact(raw, data); err != nil {
			return err
		}
		*node = Node{
			Kind:    NodeKindUnknown,
			RawKind: string(decoded.Kind),
			RawJSON: raw.String(),
		}
		return nil
	}
}

// EncodeTree serializes a validated tree to its JSON storage representation.
func EncodeTree(tree Tree) (string, error) {
	if err := Validate(tree); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return string(encoded), nil
}

// DecodeTree parses the JSON storage representation back into a validated tree.
func DecodeTree(encoded string) (Tree, error) {
	var tree Tree
	if err := json.Unmarshal([]byte(encoded), &tree); err != nil {
		return Tree{}, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if err := Validate(tree); err != nil {
		return Tree{}, err
	}
	return tree, nil
}
