package wyvern

import (
	"sync"

	"github.com/gordian-engine/wyvern/wpeer"
)

// regShards is the fixed shard count of a [registry].
// A power of two, so shard selection is a mask.
const regShards = 32

// registry is a socket's table of connected peers,
// striped across fixed shards so that
// publishes, subscription updates, and peer arrivals
// on different peers do not contend on one lock.
type registry struct {
	shards [regShards]regShard
}

type regShard struct {
	mu   sync.RWMutex
	subs map[wpeer.Identity]*subscriber

	// closed marks a shard swept by shutdown;
	// inserts fail afterward so no peer can slip in
	// behind the sweep.
	closed bool
}

func newRegistry() *registry {
	r := new(registry)
	for i := range r.shards {
		r.shards[i].subs = make(map[wpeer.Identity]*subscriber)
	}
	return r
}

// shardOf maps an identity to its shard, by FNV-1a.
func (r *registry) shardOf(id wpeer.Identity) *regShard {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	h := uint64(offset64)
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= prime64
	}
	return &r.shards[h&(regShards-1)]
}

// insert adds sub under its identity,
// rejecting an identity that is already present.
func (r *registry) insert(sub *subscriber) error {
	sh := r.shardOf(sub.id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.closed {
		return ErrSocketClosed
	}
	if _, ok := sh.subs[sub.id]; ok {
		return DuplicatePeerError{Peer: sub.id}
	}

	sh.subs[sub.id] = sub
	return nil
}

// get returns the record registered under id, if any.
func (r *registry) get(id wpeer.Identity) (*subscriber, bool) {
	sh := r.shardOf(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sub, ok := sh.subs[id]
	return sub, ok
}

// remove deletes sub's record and cancels its receive loop,
// reporting whether it did.
//
// It only removes the exact record given:
// if the identity has since been removed,
// or removed and re-registered as a new record,
// remove reports false and touches nothing.
// The cancel runs inside the shard lock,
// so the loop observes cancellation no later than
// the registry observes absence.
func (r *registry) remove(sub *subscriber, cause error) bool {
	sh := r.shardOf(sub.id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.subs[sub.id]
	if !ok || cur != sub {
		return false
	}

	delete(sh.subs, sub.id)
	sub.cancel(cause)
	return true
}

// snapshot returns the subscribers present across all shards.
//
// Each shard is copied under its own read lock,
// so the result is not a point-in-time cut of the whole registry;
// callers work on the copy and must tolerate
// records that have since been removed.
func (r *registry) snapshot() []*subscriber {
	out := make([]*subscriber, 0, r.size())
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, sub := range sh.subs {
			out = append(out, sub)
		}
		sh.mu.RUnlock()
	}
	return out
}

// size returns the number of registered peers.
func (r *registry) size() int {
	var n int
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.subs)
		sh.mu.RUnlock()
	}
	return n
}

// clear cancels and removes every record
// and marks every shard closed to further inserts.
// It returns the removed records
// so the caller can finish their teardown.
func (r *registry) clear(cause error) []*subscriber {
	var out []*subscriber
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		sh.closed = true
		for _, sub := range sh.subs {
			sub.cancel(cause)
			out = append(out, sub)
		}
		clear(sh.subs)
		sh.mu.Unlock()
	}
	return out
}
