// Package bits provides low-level bit-width primitives shared by the shard
// sizer and the type encoders.
package bits

import "math/bits"

// CeilLog2 returns 64 minus the number of leading zeros of x, treating
// CeilLog2(0) as 0. This is the width derivation used for every bit-packed
// field in the blob format.
func CeilLog2(x uint64) int {
	return bits.Len64(x)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
