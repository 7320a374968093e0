package storage

import "encoding/hex"

// shardOf derives the two-character lowercase hex shard directory name
// for a key. It folds every key byte into a single output byte by
// XORing in each byte rotated left by its position modulo 8. This is
// not a cryptographic hash; it only has to be deterministic, depend on
// every byte, and spread keys evenly so no single directory grows huge.
func shardOf(key string) string {
	var out byte
	for i := 0; i < len(key); i++ {
		b := key[i]
		r := uint(i % 8)
		out ^= b << r
		if r != 0 {
			out ^= b >> (8 - r)
		}
	}
	return hex.EncodeToString([]byte{out})
}
