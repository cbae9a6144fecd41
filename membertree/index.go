package membertree

import (
	"fmt"
	"sort"
	"strings"
)

// treeIndex is a mutable, code-keyed view over one store snapshot. Placement mutates members
// through the index and collects the touched codes so that only those are committed.
type treeIndex struct {
	members map[string]*Member
	emails  map[string]string
	dirty   map[string]struct{}
}

func emailKey(email string) string {
	return strings.ToLower(email)
}

// newTreeIndex copies members into an index. Duplicate codes or emails in the snapshot mean
// the store itself is corrupt.
func newTreeIndex(members []Member) (*treeIndex, error) {
	ix := &treeIndex{
		members: make(map[string]*Member, len(members)),
		emails:  make(map[string]string, len(members)),
		dirty:   make(map[string]struct{}),
	}
	for i := range members {
		m := members[i]
		if _, ok := ix.members[m.Code]; ok {
			return nil, fmt.Errorf("%w: duplicate member code %q in store", ErrTreeInvariantViolation, m.Code)
		}
		if other, ok := ix.emails[emailKey(m.Email)]; ok {
			return nil, fmt.Errorf("%w: members %q and %q share an email", ErrTreeInvariantViolation, other, m.Code)
		}
		ix.members[m.Code] = &m
		ix.emails[emailKey(m.Email)] = m.Code
	}
	return ix, nil
}

func (ix *treeIndex) len() int {
	return len(ix.members)
}

func (ix *treeIndex) get(code string) (*Member, bool) {
	m, ok := ix.members[code]
	return m, ok
}

func (ix *treeIndex) hasEmail(email string) bool {
	_, ok := ix.emails[emailKey(email)]
	return ok
}

func (ix *treeIndex) touch(code string) {
	ix.dirty[code] = struct{}{}
}

func (ix *treeIndex) add(m *Member) {
	ix.members[m.Code] = m
	ix.emails[emailKey(m.Email)] = m.Code
	ix.touch(m.Code)
}

// changed returns copies of every touched member, ordered by code.
func (ix *treeIndex) changed() []Member {
	codes := make([]string, 0, len(ix.dirty))
	for code := range ix.dirty {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]Member, 0, len(codes))
	for _, code := range codes {
		out = append(out, *ix.members[code])
	}
	return out
}
