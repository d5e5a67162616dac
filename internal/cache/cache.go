// Package cache abstracts the external key/value cache service (§4.A).
// All operations fail soft: a backend error is returned to the caller but
// never panics, and every caller in this repository has an in-memory or
// persistent-store fallback (the DLQ, execution history, and priority
// queue all tolerate eventual consistency between the cache and process
// state, per §4.A and §5).
package cache

import (
	"context"
	"time"
)

// Cache is the abstract K/V + set + sorted-set contract every backend in
// this repository implements. Implementations: redis.Cache (production,
// backed by go-redis) and memory.Cache (tests, single-process fallback).
type Cache interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Evict(ctx context.Context, key string) error
	EvictByPrefix(ctx context.Context, prefix string) error

	SetAdd(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetRemove(ctx context.Context, key string, member string) error
	SetCardinality(ctx context.Context, key string) (int64, error)

	// SortedSetAdd inserts or updates member with the given score.
	SortedSetAdd(ctx context.Context, key string, member string, score float64) error
	// SortedSetPopMin atomically removes and returns up to n lowest-score
	// members, paired with their scores, in ascending score order.
	SortedSetPopMin(ctx context.Context, key string, n int) ([]ScoredMember, error)
	// SortedSetRange returns members with score in [lo, hi], ascending.
	SortedSetRange(ctx context.Context, key string, lo, hi float64) ([]ScoredMember, error)
	SortedSetRemove(ctx context.Context, key string, member string) error
	SortedSetScore(ctx context.Context, key string, member string) (float64, bool, error)
	SortedSetCount(ctx context.Context, key string, lo, hi float64) (int64, error)
	// SortedSetRemoveByScore removes all members with score in [lo, hi].
	SortedSetRemoveByScore(ctx context.Context, key string, lo, hi float64) error

	// SetIfAbsent is the atomic lock primitive: it stores value under key
	// with the given ttl only if key is not already present, returning
	// whether the value was set (i.e. whether the lock was acquired).
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
}

// ScoredMember pairs a sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Namespaced key prefixes (§6 "Persisted state layout").
const (
	PrefixJobCache       = "job:cache:"
	PrefixWorkerCache    = "worker:cache:"
	KeyPriorityQueue     = "job:priority:queue"
	KeyProcessingQueue   = "job:processing:queue"
	KeyFailedQueue       = "job:failed:queue"
	KeyCompletedQueue    = "job:completed:queue"
	PrefixDLQJob         = "dlq:job:"
	KeyDLQIndex          = "dlq:index"
	PrefixWorkerBlacklist = "worker:blacklist:"
	PrefixJobLock        = "job:lock:"
)
