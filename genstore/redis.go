package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares per-resource generations between processes, so a
// write made by one CLI invocation invalidates responses cached by another.
// An optional TTL bounds growth; an expired generation reads as 0 and the
// affected cache entries self-heal.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration // 0 disables expiry
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation store. ttl <= 0 keeps
// generation keys forever.
func NewRedisGenStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(resource string) string { return "gen:" + s.ns + ":" + resource }

// Snapshot returns the current generation. Missing keys read as 0.
func (s *RedisGenStore) Snapshot(ctx context.Context, resource string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(resource)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(resource, res)
}

// SnapshotMany reads every generation with one MGET. Missing keys read as 0.
func (s *RedisGenStore) SnapshotMany(ctx context.Context, resources []string) (map[string]uint64, error) {
	if len(resources) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(resources))
	for i, r := range resources {
		keys[i] = s.key(r)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(resources))
	for i, v := range vals {
		var raw string
		switch vv := v.(type) {
		case nil:
			out[resources[i]] = 0
			continue
		case string:
			raw = vv
		case []byte:
			raw = string(vv)
		default:
			raw = fmt.Sprint(vv)
		}
		g, err := parseGen(resources[i], raw)
		if err != nil {
			return nil, err
		}
		out[resources[i]] = g
	}
	return out, nil
}

// BumpMany increments every resource (and refreshes its TTL when set) in a
// single pipelined round-trip.
func (s *RedisGenStore) BumpMany(ctx context.Context, resources []string) (map[string]uint64, error) {
	if len(resources) == 0 {
		return map[string]uint64{}, nil
	}
	incrs := make([]*redis.IntCmd, len(resources))
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, r := range resources {
			k := s.key(r)
			incrs[i] = p.Incr(ctx, k)
			if s.ttl > 0 {
				p.Expire(ctx, k, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(resources))
	for i, r := range resources {
		out[r] = uint64(incrs[i].Val())
	}
	return out, nil
}

// Cleanup is a no-op; Redis expires generation keys itself when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

// Close closes the underlying Redis client.
func (s *RedisGenStore) Close(context.Context) error { return s.rdb.Close() }

func parseGen(resource, raw string) (uint64, error) {
	u, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse at %s: %w", resource, err)
	}
	return u, nil
}
