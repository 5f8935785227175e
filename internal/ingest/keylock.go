package ingest

import (
	"hash/fnv"
	"sync"
)

const lockShards = 128

// KeyLocks serializes work per identity key with a fixed pool of sharded
// mutexes. Two different keys may occasionally share a shard; that costs a
// little parallelism, never correctness. There is no global lock.
type KeyLocks struct {
	shards [lockShards]sync.Mutex
}

// NewKeyLocks creates the shard pool
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{}
}

func (k *KeyLocks) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%lockShards]
}

// Lock acquires the shard for key and returns the unlock function
func (k *KeyLocks) Lock(key string) func() {
	m := k.shard(key)
	m.Lock()
	return m.Unlock
}
