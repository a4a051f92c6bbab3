package utils

import "hash/fnv"

func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// HashStringToInt64 maps a string onto the signed 64-bit key space used by
// Postgres advisory locks.
func HashStringToInt64(s string) int64 {
	return int64(HashStringToUint64(s))
}
