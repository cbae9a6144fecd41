package membertree

import (
	"context"
)

// Store is the persistence boundary of the engine. Every implementation keeps a revision
// number that increases by one on each successful Commit.
type Store interface {
	// Snapshot returns the full member set and the revision it was read at, as one atomic
	// view. Callers own the returned slice.
	Snapshot(ctx context.Context) ([]Member, uint64, error)

	// Revision returns the current revision without reading the member set.
	Revision(ctx context.Context) (uint64, error)

	// Commit atomically upserts the given members if the store is still at revision base,
	// returning the new revision. If another commit happened in between it returns an error
	// wrapping ErrConcurrentModification and writes nothing.
	Commit(ctx context.Context, base uint64, changed []Member) (uint64, error)
}
