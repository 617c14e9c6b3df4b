package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/plumeworks/plume/backend/internal/content"
)

var (
	// ErrInvalidDocumentID indicates an empty or unusable document identifier.
	ErrInvalidDocumentID = errors.New("crdt: invalid document id")
	// ErrCorruptState indicates bytes that are not a valid state encoding.
	ErrCorruptState = errors.New("crdt: corrupt state")
)

// ItemID identifies one item by the replica that created it and the replica's
// logical clock at creation time. The zero value marks the document start.
type ItemID struct {
	Replica uint64
	Clock   uint64
}

// IsZero reports whether the identifier is the document-start sentinel.
func (id ItemID) IsZero() bool {
	return id.Replica == 0 && id.Clock == 0
}

// Item is one flattened block of the document. Depth restores the nesting that
// the flattening removed; Origin links the item to its left neighbor at
// creation time so later merges have a stable anchor.
type Item struct {
	ID      ItemID
	Origin  ItemID
	Depth   int
	Deleted bool
	Node    content.Node
}

// State is the replicated document state: the origin replica seed, the next
// unused clock for that replica, and the items in document order.
type State struct {
	Replica uint64
	Clock   uint64
	Items   []Item
}

// ReplicaForDocument derives the origin replica seed from a document
// identifier. The derivation is the determinism anchor: every process building
// state for the same document mints identical item identifiers, while two
// documents never share a replica seed in practice.
func ReplicaForDocument(documentID string) uint64 {
	sum := sha256.Sum256([]byte(documentID))
	return binary.BigEndian.Uint64(sum[:8])
}

// Build converts a content tree into replicated state for the given document.
// It is a pure function of its inputs: identical (documentID, tree) pairs
// produce byte-identical state with no coordination.
func Build(documentID string, tree content.Tree) (State, error) {
	if documentID == "" {
		return State{}, ErrInvalidDocumentID
	}
	if err := content.Validate(tree); err != nil {
		return State{}, err
	}

	replica := ReplicaForDocument(documentID)
	state := State{Replica: replica, Clock: 1}
	origin := ItemID{}
	for _, node := range tree.Nodes {
		origin = appendFlattened(&state, node, 0, origin)
	}
	return state, nil
}

func appendFlattened(state *State, node content.Node, depth int, origin ItemID) ItemID {
	flattened := node
	flattened.Children = nil

	id := ItemID{Replica: state.Replica, Clock: state.Clock}
	state.Clock++
	state.Items = append(state.Items, Item{
		ID:     id,
		Origin: origin,
		Depth:  depth,
		Node:   flattened,
	})

	previous := id
	for _, child := range node.Children {
		previous = appendFlattened(state, child, depth+1, previous)
	}
	return previous
}
