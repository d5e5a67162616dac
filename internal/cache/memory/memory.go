// Package memory implements cache.Cache as an in-process fallback, used by
// unit tests and by any deployment that runs without a network cache.
// Mirrors the semantics a real key/value + sorted-set backend must provide;
// it does not need to be fast, only correct, since production wiring uses
// internal/cache/redis.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rezkam/mono/internal/cache"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Cache is a mutex-guarded, single-process implementation of cache.Cache.
type Cache struct {
	mu        sync.Mutex
	kv        map[string]entry
	sets      map[string]map[string]struct{}
	sortedSet map[string]map[string]float64
}

// New creates an empty in-memory cache.
func New() *Cache {
	return &Cache{
		kv:        make(map[string]entry),
		sets:      make(map[string]map[string]struct{}),
		sortedSet: make(map[string]map[string]float64),
	}
}

func (c *Cache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.kv[key] = entry{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.kv[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *Cache) Evict(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *Cache) EvictByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.kv {
		if strings.HasPrefix(k, prefix) {
			delete(c.kv, k)
		}
	}
	return nil
}

func (c *Cache) SetAdd(_ context.Context, key string, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (c *Cache) SetMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sets[key]
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Cache) SetRemove(_ context.Context, key string, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sets[key]; ok {
		delete(s, member)
	}
	return nil
}

func (c *Cache) SetCardinality(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.sets[key])), nil
}

func (c *Cache) SortedSetAdd(_ context.Context, key string, member string, score float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.sortedSet[key]
	if !ok {
		z = make(map[string]float64)
		c.sortedSet[key] = z
	}
	z[member] = score
	return nil
}

func (c *Cache) sortedMembers(key string) []cache.ScoredMember {
	z := c.sortedSet[key]
	out := make([]cache.ScoredMember, 0, len(z))
	for m, s := range z {
		out = append(out, cache.ScoredMember{Member: m, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (c *Cache) SortedSetPopMin(_ context.Context, key string, n int) ([]cache.ScoredMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := c.sortedMembers(key)
	if n > len(members) {
		n = len(members)
	}
	popped := members[:n]
	z := c.sortedSet[key]
	for _, m := range popped {
		delete(z, m.Member)
	}
	return popped, nil
}

func (c *Cache) SortedSetRange(_ context.Context, key string, lo, hi float64) ([]cache.ScoredMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []cache.ScoredMember
	for _, m := range c.sortedMembers(key) {
		if m.Score >= lo && m.Score <= hi {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Cache) SortedSetRemove(_ context.Context, key string, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if z, ok := c.sortedSet[key]; ok {
		delete(z, member)
	}
	return nil
}

func (c *Cache) SortedSetScore(_ context.Context, key string, member string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.sortedSet[key]
	if !ok {
		return 0, false, nil
	}
	s, ok := z[member]
	return s, ok, nil
}

func (c *Cache) SortedSetCount(_ context.Context, key string, lo, hi float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, m := range c.sortedMembers(key) {
		if m.Score >= lo && m.Score <= hi {
			n++
		}
	}
	return n, nil
}

func (c *Cache) SortedSetRemoveByScore(_ context.Context, key string, lo, hi float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, ok := c.sortedSet[key]
	if !ok {
		return nil
	}
	for m, s := range z {
		if s >= lo && s <= hi {
			delete(z, m)
		}
	}
	return nil
}

func (c *Cache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.kv[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.kv[key] = entry{value: append([]byte(nil), value...), expires: exp}
	return true, nil
}

func (c *Cache) Ping(_ context.Context) error {
	return nil
}

var _ cache.Cache = (*Cache)(nil)
