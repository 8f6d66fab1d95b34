package btree

import "bytes"

// Comparator defines a strict total order over fixed-length key bytes.
// It must return a negative number if a < b, zero if a == b, and a
// positive number if a > b. The default comparator is lexicographic
// byte comparison.
type Comparator func(a, b []byte) int

// DefaultComparator compares keys lexicographically, byte by byte.
func DefaultComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}
