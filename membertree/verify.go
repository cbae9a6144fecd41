package membertree

import (
	"errors"
	"fmt"
	"sort"
)

// maxReportedViolations bounds the size of the error returned by Verify on badly damaged data.
const maxReportedViolations = 100

type violations struct {
	errs    []error
	dropped int
}

func (v *violations) add(format string, args ...any) {
	if len(v.errs) >= maxReportedViolations {
		v.dropped++
		return
	}
	v.errs = append(v.errs, fmt.Errorf("%w: "+format, append([]any{ErrTreeInvariantViolation}, args...)...))
}

func (v *violations) err() error {
	if v.dropped > 0 {
		v.errs = append(v.errs, fmt.Errorf("%w: %d further violations not shown", ErrTreeInvariantViolation, v.dropped))
	}
	return errors.Join(v.errs...)
}

// Verify checks every structural invariant of a member set, recomputing subtree sizes from
// scratch rather than trusting the stored counters. It returns nil for a consistent set, or
// a joined error listing each violation; every element wraps ErrTreeInvariantViolation.
func Verify(members []Member) error {
	var v violations
	if len(members) == 0 {
		return nil
	}

	byCode := make(map[string]*Member, len(members))
	emails := make(map[string]string, len(members))
	var roots []string
	for i := range members {
		m := &members[i]
		if _, dup := byCode[m.Code]; dup {
			v.add("duplicate member code %q", m.Code)
			continue
		}
		byCode[m.Code] = m
		if other, dup := emails[emailKey(m.Email)]; dup {
			v.add("members %q and %q share an email", other, m.Code)
		} else {
			emails[emailKey(m.Email)] = m.Code
		}
		if m.LeftCount < 0 || m.RightCount < 0 {
			v.add("%s has a negative count", m.Code)
		}
		if m.IsRoot() {
			roots = append(roots, m.Code)
			if m.Position != "" {
				v.add("root %s has position %q", m.Code, m.Position)
			}
		}
	}

	sort.Strings(roots)
	if len(roots) != 1 {
		v.add("expected exactly one root, found %d %v", len(roots), roots)
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		m := byCode[code]
		if !m.IsRoot() {
			parent, ok := byCode[m.ParentCode]
			switch {
			case !ok:
				v.add("%s references missing parent %s", m.Code, m.ParentCode)
			case !m.Position.Valid():
				v.add("%s has invalid position %q", m.Code, m.Position)
			case parent.Child(m.Position) != m.Code:
				v.add("%s slot of %s does not point back at %s", m.Position, parent.Code, m.Code)
			}
		}
		for _, slot := range []Position{PositionLeft, PositionRight} {
			childCode := m.Child(slot)
			if childCode == "" {
				continue
			}
			child, ok := byCode[childCode]
			if !ok {
				v.add("%s references missing %s child %s", m.Code, slot, childCode)
				continue
			}
			if child.ParentCode != m.Code || child.Position != slot {
				v.add("%s child %s of %s records parent %q position %q", slot, childCode, m.Code, child.ParentCode, child.Position)
			}
		}
		if m.LeftChildCode != "" && m.LeftChildCode == m.RightChildCode {
			v.add("%s holds %s in both slots", m.Code, m.LeftChildCode)
		}
	}

	if len(roots) == 1 {
		verifyReachability(&v, byCode, roots[0], codes)
	}
	verifySponsors(&v, byCode, codes)

	return v.err()
}

// levelOrder lists the members reachable from root breadth-first. Children that are missing
// are skipped; children reached a second time are returned in repeats and not descended into.
func levelOrder(byCode map[string]*Member, root string) (order []*Member, repeats []string) {
	order = make([]*Member, 0, len(byCode))
	seen := map[string]struct{}{root: {}}
	order = append(order, byCode[root])
	for head := 0; head < len(order); head++ {
		cur := order[head]
		for _, childCode := range []string{cur.LeftChildCode, cur.RightChildCode} {
			if childCode == "" {
				continue
			}
			child, ok := byCode[childCode]
			if !ok {
				continue
			}
			if _, dup := seen[childCode]; dup {
				repeats = append(repeats, childCode)
				continue
			}
			seen[childCode] = struct{}{}
			order = append(order, child)
		}
	}
	return order, repeats
}

// branchSizes computes the left and right subtree sizes of every member in a level order,
// working bottom-up along its reverse.
func branchSizes(order []*Member) map[string][2]int64 {
	total := make(map[string]int64, len(order))
	out := make(map[string][2]int64, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		m := order[i]
		var left, right int64
		if m.LeftChildCode != "" {
			left = total[m.LeftChildCode]
		}
		if m.RightChildCode != "" {
			right = total[m.RightChildCode]
		}
		total[m.Code] = 1 + left + right
		out[m.Code] = [2]int64{left, right}
	}
	return out
}

// verifyReachability walks from the root in level order, then recomputes every subtree size
// and compares it with the stored counters.
func verifyReachability(v *violations, byCode map[string]*Member, root string, codes []string) {
	order, repeats := levelOrder(byCode, root)
	for _, code := range repeats {
		v.add("%s is reachable along more than one path", code)
	}

	reached := make(map[string]struct{}, len(order))
	for _, m := range order {
		reached[m.Code] = struct{}{}
	}
	for _, code := range codes {
		if _, ok := reached[code]; !ok {
			v.add("%s is not reachable from root %s", code, root)
		}
	}

	sizes := branchSizes(order)
	for _, m := range order {
		want := sizes[m.Code]
		if m.LeftCount != want[0] {
			v.add("%s left count is %d, subtree holds %d", m.Code, m.LeftCount, want[0])
		}
		if m.RightCount != want[1] {
			v.add("%s right count is %d, subtree holds %d", m.Code, m.RightCount, want[1])
		}
	}
}

// Recount rebuilds LeftCount and RightCount of every member reachable from the root out of
// the child links, and reports how many members had a counter changed. Exports from the
// older file-backed service attributed counts along sponsor links, so their counters are
// wrong below any spill even though the links are sound. Structural damage found on the way
// is an ErrTreeInvariantViolation; anything else is left for Verify to report.
func Recount(members []Member) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	byCode := make(map[string]*Member, len(members))
	var roots []string
	for i := range members {
		m := &members[i]
		if _, dup := byCode[m.Code]; dup {
			return 0, fmt.Errorf("%w: duplicate member code %q", ErrTreeInvariantViolation, m.Code)
		}
		byCode[m.Code] = m
		if m.IsRoot() {
			roots = append(roots, m.Code)
		}
	}
	if len(roots) != 1 {
		return 0, fmt.Errorf("%w: expected exactly one root, found %d", ErrTreeInvariantViolation, len(roots))
	}

	order, repeats := levelOrder(byCode, roots[0])
	if len(repeats) > 0 {
		return 0, fmt.Errorf("%w: %s is reachable along more than one path", ErrTreeInvariantViolation, repeats[0])
	}
	sizes := branchSizes(order)
	changed := 0
	for _, m := range order {
		want := sizes[m.Code]
		if m.LeftCount != want[0] || m.RightCount != want[1] {
			m.LeftCount, m.RightCount = want[0], want[1]
			changed++
		}
	}
	return changed, nil
}

// verifySponsors checks that every sponsor exists and sits on the path from the member to the
// root: spill only ever moves a registration further down the sponsor's own subtree.
func verifySponsors(v *violations, byCode map[string]*Member, codes []string) {
	for _, code := range codes {
		m := byCode[code]
		if m.IsRoot() || m.SponsorCode == "" {
			continue
		}
		if _, ok := byCode[m.SponsorCode]; !ok {
			v.add("%s references missing sponsor %s", m.Code, m.SponsorCode)
			continue
		}
		found := false
		cur := m
		for steps := 0; !cur.IsRoot() && steps <= len(byCode); steps++ {
			parent, ok := byCode[cur.ParentCode]
			if !ok {
				break
			}
			if parent.Code == m.SponsorCode {
				found = true
				break
			}
			cur = parent
		}
		if !found {
			v.add("sponsor %s of %s is not one of its ancestors", m.SponsorCode, m.Code)
		}
	}
}
