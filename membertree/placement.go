package membertree

import (
	"fmt"
)

// findInsertionPoint walks the subtree under sponsorCode in level order and returns the first
// node with a free slot, preferring left over right. This yields the shallowest, left-most
// open position beneath the sponsor.
func findInsertionPoint(ix *treeIndex, sponsorCode string) (*Member, Position, error) {
	sponsor, ok := ix.get(sponsorCode)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrSponsorNotFound, sponsorCode)
	}

	seen := map[string]struct{}{sponsor.Code: {}}
	queue := []*Member{sponsor}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]

		if cur.LeftChildCode == "" {
			return cur, PositionLeft, nil
		}
		if cur.RightChildCode == "" {
			return cur, PositionRight, nil
		}

		for _, childCode := range []string{cur.LeftChildCode, cur.RightChildCode} {
			child, ok := ix.get(childCode)
			if !ok {
				return nil, "", fmt.Errorf("%w: %s references missing child %s", ErrTreeInvariantViolation, cur.Code, childCode)
			}
			if _, dup := seen[childCode]; dup {
				return nil, "", fmt.Errorf("%w: %s reached twice under %s", ErrTreeInvariantViolation, childCode, sponsorCode)
			}
			seen[childCode] = struct{}{}
			queue = append(queue, child)
		}
	}

	// every node of a finite binary tree has a free slot somewhere below it
	return nil, "", fmt.Errorf("%w: no free slot under %s", ErrTreeInvariantViolation, sponsorCode)
}

// attach links m into the given slot of parent.
func attach(ix *treeIndex, m *Member, parent *Member, slot Position) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: invalid slot %q", ErrTreeInvariantViolation, slot)
	}
	if occupant := parent.Child(slot); occupant != "" {
		return fmt.Errorf("%w: %s slot of %s already holds %s", ErrTreeInvariantViolation, slot, parent.Code, occupant)
	}
	if m.ParentCode != "" {
		return fmt.Errorf("%w: %s is already placed under %s", ErrTreeInvariantViolation, m.Code, m.ParentCode)
	}

	m.ParentCode = parent.Code
	m.Position = slot
	parent.setChild(slot, m.Code)
	ix.touch(parent.Code)
	return nil
}

// incrementCounts adds one to the counter of fromCode named by slot, then walks up to the
// root. The branch counted at each ancestor is recovered by finding which of the ancestor's
// slots holds the node just visited; after a spill that is not necessarily the original slot.
func incrementCounts(ix *treeIndex, fromCode string, slot Position) error {
	node, ok := ix.get(fromCode)
	if !ok {
		return fmt.Errorf("%w: insertion point %s not found", ErrTreeInvariantViolation, fromCode)
	}
	node.increment(slot)
	ix.touch(node.Code)

	// a walk longer than the member count can only mean a parent cycle
	for steps := 0; !node.IsRoot(); steps++ {
		if steps > ix.len() {
			return fmt.Errorf("%w: parent cycle above %s", ErrTreeInvariantViolation, fromCode)
		}
		parent, ok := ix.get(node.ParentCode)
		if !ok {
			return fmt.Errorf("%w: %s references missing parent %s", ErrTreeInvariantViolation, node.Code, node.ParentCode)
		}
		branch, ok := parent.slotOf(node.Code)
		if !ok {
			return fmt.Errorf("%w: %s does not hold child %s", ErrTreeInvariantViolation, parent.Code, node.Code)
		}
		parent.increment(branch)
		ix.touch(parent.Code)
		node = parent
	}
	return nil
}
