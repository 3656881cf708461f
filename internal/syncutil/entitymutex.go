// Package syncutil provides per-entity locking primitives for the pipeline.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// EntityMutex provides a fixed-size pool of channel-based mutexes keyed by
// entity key (user id, card number, ...). The pipeline holds the lock for an
// entity across its whole read-history → compute → append cycle, so two
// in-flight requests for the same entity serialize and neither reads a
// snapshot that misses the other's write. Bounded memory regardless of how
// many entities are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
//
// Callers can bail out if their context is cancelled while waiting.
type EntityMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewEntityMutex creates a new context-aware per-entity mutex pool.
func NewEntityMutex() *EntityMutex {
	m := &EntityMutex{}
	m.init()
	return m
}

func (m *EntityMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // Start unlocked.
		}
	})
}

// Lock acquires the mutex for the given entity key, respecting context
// cancellation. On success, returns an unlock function and nil error. The
// caller MUST call the unlock function when done.
// On context cancellation, returns nil and the context error.
func (m *EntityMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		// Acquired the lock.
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *EntityMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
