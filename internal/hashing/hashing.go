// Package hashing provides the bucket-hash functions and hash-table geometry
// shared by the staging side and the type encoders.
//
// The staging side and the encoder must agree byte-for-byte: a record's bucket
// hint is computed here when the record is staged, and the encoder re-derives
// the table size from the record's logical size when it lays the table out.
package hashing

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// loadFactorNum/loadFactorDen express the 0.7 load factor as a ratio so the
// geometry stays in integer math. Because the factor is strictly below 1,
// every table of size >= 1 keeps at least one empty slot.
const (
	loadFactorNum = 7
	loadFactorDen = 10
)

// HashInt hashes an ordinal to a 32-bit bucket hash.
func HashInt(v int) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return murmur3.Sum32(buf[:])
}

// HashLong hashes a 64-bit field value.
func HashLong(v int64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return murmur3.Sum32(buf[:])
}

// HashBytes hashes a variable-length field value.
func HashBytes(b []byte) uint32 {
	return murmur3.Sum32(b)
}

// HashTableSize returns the bucket count for a map of logical size s: the
// smallest power of two B with B*loadFactor >= s. For s >= 1 the result is
// strictly greater than s, so linear probing always terminates.
func HashTableSize(s int) int {
	buckets := 1
	for buckets*loadFactorNum < s*loadFactorDen {
		buckets <<= 1
	}
	return buckets
}
