package memberstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spilltree/spilltree/membertree"
)

// MemStore keeps the member set in process memory. It is the default backend for tests and
// for single-process deployments that do not need durability.
type MemStore struct {
	lk      sync.RWMutex
	members map[string]membertree.Member
	rev     uint64
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		members: make(map[string]membertree.Member),
	}
}

func (s *MemStore) Snapshot(ctx context.Context) ([]membertree.Member, uint64, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	out := make([]membertree.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt) || (out[i].JoinedAt.Equal(out[j].JoinedAt) && out[i].Code < out[j].Code)
	})
	return out, s.rev, nil
}

func (s *MemStore) Revision(ctx context.Context) (uint64, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	return s.rev, nil
}

func (s *MemStore) Commit(ctx context.Context, base uint64, changed []membertree.Member) (uint64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.rev != base {
		return 0, fmt.Errorf("%w: store at revision %d, commit based on %d", membertree.ErrConcurrentModification, s.rev, base)
	}
	for _, m := range changed {
		s.members[m.Code] = m
	}
	s.rev++
	return s.rev, nil
}

func (s *MemStore) Close() error {
	return nil
}
