package crdt

import (
	"fmt"

	"github.com/plumeworks/plume/backend/internal/content"
)

// ProjectContentTree extracts a read-optimized content snapshot from state.
// Deleted items are dropped; nesting is rebuilt from item depths. The result
// is validated so a defective state surfaces as ErrCorruptState instead of a
// silently wrong document.
func ProjectContentTree(state State) (content.Tree, error) {
	var roots []content.Node
	// Stack of pointers into the tree under construction, one per open depth.
	var stack []*content.Node
	skipDeeperThan := -1

	for index, item := range state.Items {
		if skipDeeperThan >= 0 && item.Depth > skipDeeperThan {
			continue
		}
		skipDeeperThan = -1
		if item.Deleted {
			// Children of a deleted item go with it.
			skipDeeperThan = item.Depth
			continue
		}
		if item.Depth > len(stack) {
			return content.Tree{}, fmt.Errorf("%w: item %d at depth %d with only %d open ancestors", ErrCorruptState, index, item.Depth, len(stack))
		}
		stack = stack[:item.Depth]

		node := item.Node
		node.Children = nil
		if item.Depth == 0 {
			roots = append(roots, node)
			stack = append(stack, &roots[len(roots)-1])
			continue
		}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, node)
		stack = append(stack, &parent.Children[len(parent.Children)-1])
	}

	if len(roots) == 0 {
		return content.EmptyTree(), nil
	}
	tree := content.NewTree(roots)
	if err := content.Validate(tree); err != nil {
		return content.Tree{}, fmt.Errorf("%w: projected tree invalid: %v", ErrCorruptState, err)
	}
	return tree, nil
}
