package memberstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spilltree/spilltree/membertree"
)

// RedisStore keeps the member set in a redis hash next to a revision counter. Commits use
// WATCH on the revision key with a MULTI/EXEC pipeline, so several daemons can share one
// redis and lose a race only as ErrConcurrentModification.
type RedisStore struct {
	Client *redis.Client

	membersKey  string
	revisionKey string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(rdb, prefix), nil
}

func NewRedisStoreWithClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "spilltree"
	}
	return &RedisStore{
		Client:      rdb,
		membersKey:  prefix + "/members",
		revisionKey: prefix + "/rev",
	}
}

func parseRevision(val string, err error) (uint64, error) {
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	rev, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing revision %q: %w", val, err)
	}
	return rev, nil
}

func (s *RedisStore) Snapshot(ctx context.Context) ([]membertree.Member, uint64, error) {
	// both reads go out in one MULTI so they observe the same state
	var (
		revCmd *redis.StringCmd
		allCmd *redis.MapStringStringCmd
	)
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		revCmd = pipe.Get(ctx, s.revisionKey)
		allCmd = pipe.HGetAll(ctx, s.membersKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}

	rev, err := parseRevision(revCmd.Result())
	if err != nil {
		return nil, 0, err
	}
	all, err := allCmd.Result()
	if err != nil {
		return nil, 0, err
	}

	out := make([]membertree.Member, 0, len(all))
	for code, raw := range all {
		var m membertree.Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, 0, fmt.Errorf("decoding member %q: %w", code, err)
		}
		out = append(out, m)
	}
	return out, rev, nil
}

func (s *RedisStore) Revision(ctx context.Context) (uint64, error) {
	return parseRevision(s.Client.Get(ctx, s.revisionKey).Result())
}

func (s *RedisStore) Commit(ctx context.Context, base uint64, changed []membertree.Member) (uint64, error) {
	fields := make([]any, 0, 2*len(changed))
	for i := range changed {
		value, err := json.Marshal(&changed[i])
		if err != nil {
			return 0, fmt.Errorf("encoding member %q: %w", changed[i].Code, err)
		}
		fields = append(fields, changed[i].Code, string(value))
	}

	err := s.Client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := parseRevision(tx.Get(ctx, s.revisionKey).Result())
		if err != nil {
			return err
		}
		if cur != base {
			return fmt.Errorf("%w: store at revision %d, commit based on %d", membertree.ErrConcurrentModification, cur, base)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, s.membersKey, fields...)
			}
			pipe.Set(ctx, s.revisionKey, base+1, 0)
			return nil
		})
		return err
	}, s.revisionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("%w: revision key changed during commit", membertree.ErrConcurrentModification)
	}
	if err != nil {
		return 0, err
	}
	return base + 1, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}
