// Package shardmap implements a fixed-shard concurrent string-keyed map,
// used by both internal/storage (tables, and each table's keys) and
// internal/broker (subscriptions only) to keep per-key
// locking independent across unrelated keys instead of one global mutex.
package shardmap

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 16

// Map is a concurrent map[string]V sharded by FNV hash of the key.
type Map[V any] struct {
	shards []shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New returns a Map with the default shard count.
func New[V any]() *Map[V] {
	return NewShards[V](defaultShards)
}

// NewShards returns a Map with n shards. n must be > 0.
func NewShards[V any](n int) *Map[V] {
	s := make([]shard[V], n)
	for i := range s {
		s[i].m = make(map[string]V)
	}
	return &Map[V]{shards: s}
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Load returns the value stored under key, if any.
func (m *Map[V]) Load(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Store sets key to value, returning the prior value if one existed.
func (m *Map[V]) Store(key string, value V) (prior V, hadPrior bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, hadPrior = s.m[key]
	s.m[key] = value
	return prior, hadPrior
}

// Delete removes key, returning the prior value if one existed.
func (m *Map[V]) Delete(key string) (prior V, hadPrior bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, hadPrior = s.m[key]
	delete(s.m, key)
	return prior, hadPrior
}

// Contains reports whether key is present.
func (m *Map[V]) Contains(key string) bool {
	_, ok := m.Load(key)
	return ok
}

// GetOrCreate returns the existing value for key, or stores and returns
// newValue() if absent. Used to auto-create tables on first access.
func (m *Map[V]) GetOrCreate(key string, newValue func() V) V {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok = s.m[key]; ok {
		return v
	}
	v = newValue()
	s.m[key] = v
	return v
}

// Snapshot returns a copy of every key/value pair across all shards,
// taken shard-by-shard under each shard's read lock. Concurrent writes
// during the snapshot may or may not be reflected in the result, but the
// copy itself is never mutated afterward (spec.md's snapshot-iteration
// invariant).
func (m *Map[V]) Snapshot() map[string]V {
	out := make(map[string]V)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, v := range s.m {
			out[k] = v
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the total number of keys across all shards.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
