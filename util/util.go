package util

import (
	"github.com/cespare/xxhash/v2"
)

// HashString hashes a key produced by types.Identity.Key or types.ValuesKey.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// ShardFor maps a key onto one of n shards. n must be greater than zero.
func ShardFor(key string, n int) int {
	return int(HashString(key) % uint64(n))
}

// HashString32 folds the 64 bit hash, it is used where a uint32 hash is required such as the LRU caches.
func HashString32(s string) uint32 {
	h := xxhash.Sum64String(s)
	return uint32(h ^ (h >> 32))
}
