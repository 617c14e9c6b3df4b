package crdt

import (
	"errors"
	"testing"

	"github.com/plumeworks/plume/backend/internal/content"
)

func TestProjectContentTreeInvertsBuild(t *testing.T) {
	tree := sampleTree()
	state := mustBuild(t, "draft-project", tree)

	projected, err := ProjectContentTree(state)
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	if content.Fingerprint(projected) != content.Fingerprint(tree) {
		t.Fatalf("expected projection to reproduce the source tree")
	}
}

func TestProjectContentTreeDropsDeletedSubtrees(t *testing.T) {
	state := mustBuild(t, "draft-deleted", sampleTree())
	// Delete the list; its items must go with it.
	state.Items[2].Deleted = true

	projected, err := ProjectContentTree(state)
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	for _, node := range projected.Nodes {
		if node.Kind == content.NodeKindList {
			t.Fatalf("expected deleted list to be dropped")
		}
		if node.Kind == content.NodeKindListItem {
			t.Fatalf("expected list items to be dropped with their list")
		}
	}
	if len(projected.Nodes) != 3 {
		t.Fatalf("expected 3 surviving nodes, got %d", len(projected.Nodes))
	}
}

func TestProjectContentTreeOfEmptyStateYieldsEmptyTemplate(t *testing.T) {
	projected, err := ProjectContentTree(State{Replica: 7, Clock: 1})
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	if content.Fingerprint(projected) != content.Fingerprint(content.EmptyTree()) {
		t.Fatalf("expected the empty-document template")
	}
}

func TestProjectContentTreeRejectsIncoherentDepths(t *testing.T) {
	state := mustBuild(t, "draft-bad-depth", content.EmptyTree())
	state.Items[0].Depth = 3

	_, err := ProjectContentTree(state)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}
