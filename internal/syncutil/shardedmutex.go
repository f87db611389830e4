// Package syncutil provides small concurrency helpers shared by services.
package syncutil

import "sync"

const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string. Services use it
// for per-entity critical sections (one transaction, one review) without
// growing a lock per key ever seen; keys that hash to the same shard contend
// with each other, which is acceptable for short sections.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns the matching unlock function.
//
//	unlock := locks.Lock(txn.ID)
//	defer unlock()
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// shardIndex is FNV-1a over the key bytes, folded to the shard count.
// Computed inline to avoid allocating a hasher per lock acquisition.
func shardIndex(key string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h % shardCount
}
