package memberstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/spilltree/spilltree/membertree"
)

// Inner schema:
// M{code} : {JSON member}
// R       : {uint64 revision}
var pebbleRevisionKey = []byte{'R'}

func makeMemberKey(code string) []byte {
	out := make([]byte, len(code)+1)
	out[0] = 'M'
	copy(out[1:], code)
	return out
}

// PebbleStore holds the member set in an embedded pebble database. Only one process may
// open the directory, so commits are serialized with a mutex and reads use pebble snapshots.
type PebbleStore struct {
	db *pebble.DB

	commitLk sync.Mutex

	log *slog.Logger
}

var _ Store = (*PebbleStore)(nil)

func OpenPebbleStore(pebblePath string, logger *slog.Logger) (*PebbleStore, error) {
	if pebblePath == "" {
		return nil, errors.New("pebble store requires a directory path")
	}
	db, err := pebble.Open(pebblePath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: could not open db, %w", pebblePath, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PebbleStore{
		db:  db,
		log: logger.With("backend", "pebble", "path", pebblePath),
	}, nil
}

type pebbleGetter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func readRevision(g pebbleGetter) (uint64, error) {
	value, closer, err := g.Get(pebbleRevisionKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading revision: %w", err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, fmt.Errorf("revision value has %d bytes, want 8", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func (ps *PebbleStore) Snapshot(ctx context.Context) ([]membertree.Member, uint64, error) {
	snap := ps.db.NewSnapshot()
	defer snap.Close()

	rev, err := readRevision(snap)
	if err != nil {
		return nil, 0, err
	}

	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'M'},
		UpperBound: []byte{'N'},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("member iter start, %w", err)
	}
	defer iter.Close()

	var out []membertree.Member
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, 0, fmt.Errorf("member iter, %w", err)
		}
		var m membertree.Member
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, 0, fmt.Errorf("decoding member %q: %w", iter.Key()[1:], err)
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, fmt.Errorf("member iter, %w", err)
	}
	return out, rev, nil
}

func (ps *PebbleStore) Revision(ctx context.Context) (uint64, error) {
	return readRevision(ps.db)
}

func (ps *PebbleStore) Commit(ctx context.Context, base uint64, changed []membertree.Member) (uint64, error) {
	ps.commitLk.Lock()
	defer ps.commitLk.Unlock()

	cur, err := readRevision(ps.db)
	if err != nil {
		return 0, err
	}
	if cur != base {
		return 0, fmt.Errorf("%w: store at revision %d, commit based on %d", membertree.ErrConcurrentModification, cur, base)
	}

	batch := ps.db.NewBatch()
	defer batch.Close()
	for i := range changed {
		value, err := json.Marshal(&changed[i])
		if err != nil {
			return 0, fmt.Errorf("encoding member %q: %w", changed[i].Code, err)
		}
		if err := batch.Set(makeMemberKey(changed[i].Code), value, nil); err != nil {
			return 0, err
		}
	}
	var revBytes [8]byte
	binary.BigEndian.PutUint64(revBytes[:], base+1)
	if err := batch.Set(pebbleRevisionKey, revBytes[:], nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return base + 1, nil
}

func (ps *PebbleStore) Close() error {
	err := ps.db.Flush()
	if err != nil {
		ps.log.Error("pebble flush", "err", err)
	}
	err = ps.db.Close()
	if err != nil {
		ps.log.Error("pebble close", "err", err)
	}
	return err
}
