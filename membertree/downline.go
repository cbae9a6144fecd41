package membertree

import (
	"fmt"
)

type downlineFrame struct {
	member *Member
	view   *DownlineNode
	depth  int
}

// buildDownline assembles the subtree view under rootCode depth-first, left before right,
// using an explicit stack so that deep trees do not grow the goroutine stack. maxDepth limits
// how many levels below the root are expanded; zero means unlimited.
func buildDownline(ix *treeIndex, rootCode string, maxDepth int) (*DownlineNode, error) {
	root, ok := ix.get(rootCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, rootCode)
	}

	out := newDownlineNode(root)
	seen := map[string]struct{}{root.Code: {}}
	stack := []downlineFrame{{member: root, view: out}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if maxDepth > 0 && frame.depth >= maxDepth {
			continue
		}

		// right is pushed first so that left is expanded first
		for _, slot := range []Position{PositionRight, PositionLeft} {
			code := frame.member.Child(slot)
			if code == "" {
				continue
			}
			child, ok := ix.get(code)
			if !ok {
				return nil, fmt.Errorf("%w: %s references missing child %s", ErrTreeInvariantViolation, frame.member.Code, code)
			}
			if _, dup := seen[code]; dup {
				return nil, fmt.Errorf("%w: %s reached twice under %s", ErrTreeInvariantViolation, code, rootCode)
			}
			seen[code] = struct{}{}

			view := newDownlineNode(child)
			if slot == PositionLeft {
				frame.view.Left = view
			} else {
				frame.view.Right = view
			}
			stack = append(stack, downlineFrame{member: child, view: view, depth: frame.depth + 1})
		}
	}
	return out, nil
}

// Walk visits every node of the view depth-first, left before right, stopping at the first
// error returned by fn.
func (n *DownlineNode) Walk(fn func(node *DownlineNode, depth int) error) error {
	type item struct {
		node  *DownlineNode
		depth int
	}
	stack := []item{{node: n}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.node == nil {
			continue
		}
		if err := fn(it.node, it.depth); err != nil {
			return err
		}
		stack = append(stack, item{it.node.Right, it.depth + 1}, item{it.node.Left, it.depth + 1})
	}
	return nil
}

// Size is the number of nodes present in the view, which is smaller than the stored counts
// when the view was depth limited.
func (n *DownlineNode) Size() int {
	size := 0
	_ = n.Walk(func(*DownlineNode, int) error {
		size++
		return nil
	})
	return size
}
