// Package seqnum implements the 16-bit ring sequence counter shared by
// packet and message numbering. Value 0 is reserved as "uninitialized"
// and is skipped whenever arithmetic would otherwise land on it.
package seqnum

// SeqNum is a 16-bit ring counter. Zero means "uninitialized" and is
// never produced by Next or Add.
type SeqNum uint16

// ringSize is the number of values the ring actually cycles through:
// 1..65535, with 0 excluded entirely rather than merely skipped as a
// landing value. Arithmetic below operates on a zero-based index into
// this ring (v-1) so 0 can never appear as an intermediate result.
const ringSize = 65535

const maxHalf = ringSize / 2 // half the ring, used for sign correction

// Zero is the reserved uninitialized value.
const Zero SeqNum = 0

// Add returns s advanced by n (n may be negative), wrapping over the
// ring [1, 65535] so the reserved value 0 is never produced.
func Add(s SeqNum, n int32) SeqNum {
	idx := int32(s) - 1
	idx = ((idx+n)%ringSize + ringSize) % ringSize
	return SeqNum(idx + 1)
}

// Next returns the successor of s (s+1, skipping 0).
func Next(s SeqNum) SeqNum { return Add(s, 1) }

// Diff returns the signed circular difference a-b in
// [-(2^15-1), +(2^15-1)].
func Diff(a, b SeqNum) int32 {
	d := int32(a) - int32(b)
	d = ((d % ringSize) + ringSize) % ringSize
	if d > maxHalf {
		d -= ringSize
	}
	return d
}

// NewerThan reports whether a is strictly newer than b in ring order.
func NewerThan(a, b SeqNum) bool { return Diff(a, b) > 0 }

// OlderThan reports whether a is strictly older than b in ring order.
func OlderThan(a, b SeqNum) bool { return Diff(a, b) < 0 }
