package seqnum

import "github.com/fosonet/fosonet/pkg/ferrors"

// Bitfield tracks "the N predecessors of the most-recently inserted seq
// have been seen", for an arbitrary window width (32 for packet acks,
// 256 for application-level message dedup). It is not safe for
// concurrent use; callers serialize access (the scheduler thread owns
// all connection state per the concurrency model).
type Bitfield struct {
	width uint32 // window width in bits
	words []uint64
	head  SeqNum
	ready bool // false until the first Insert
}

// NewBitfield constructs a bitfield tracking a window of width bits.
// width must be positive; storage is rounded up to whole 64-bit words.
func NewBitfield(width uint32) *Bitfield {
	if width == 0 {
		panic("seqnum: bitfield width must be positive")
	}
	return &Bitfield{
		width: width,
		words: make([]uint64, (width+63)/64),
	}
}

func (b *Bitfield) bit(i uint32) bool {
	return b.words[i/64]&(uint64(1)<<(i%64)) != 0
}

func (b *Bitfield) setBit(i uint32) {
	b.words[i/64] |= uint64(1) << (i % 64)
}

func (b *Bitfield) clearBit(i uint32) {
	b.words[i/64] &^= uint64(1) << (i % 64)
}

// shiftRight shifts the whole window right (towards older) by n bits,
// moving every bit to a higher position, discarding bits shifted past
// the backing words and zero-filling the vacated low bits (positions
// just below the new head).
func (b *Bitfield) shiftRight(n uint32) {
	if n >= b.width {
		for i := range b.words {
			b.words[i] = 0
		}
		return
	}
	wordShift := n / 64
	bitShift := n % 64

	if wordShift > 0 {
		copy(b.words[wordShift:], b.words[:len(b.words)-int(wordShift)])
		for i := 0; i < int(wordShift); i++ {
			b.words[i] = 0
		}
	}
	if bitShift > 0 {
		carry := uint64(0)
		for i := 0; i < len(b.words); i++ {
			newCarry := b.words[i] >> (64 - bitShift)
			b.words[i] = (b.words[i] << bitShift) | carry
			carry = newCarry
		}
	}
}

// Insert records seq as seen. It returns ferrors.ErrDuplicate if seq was
// already present in the tracked window, or ferrors.ErrTooOld if seq
// falls outside (older than) the window and cannot be recorded — both
// are "drop" conditions to the caller.
func (b *Bitfield) Insert(seq SeqNum) error {
	if !b.ready {
		b.head = seq
		b.ready = true
		b.setBit(0)
		return nil
	}

	d := Diff(seq, b.head)
	switch {
	case d == 0:
		return ferrors.ErrDuplicate
	case d > 0:
		// seq is newer than the current head: advance the window.
		gap := uint32(d)
		b.shiftRight(gap)
		b.head = seq
		b.setBit(0)
		// the former head, now at position `gap`, was already seen.
		if gap < b.width {
			b.setBit(gap)
		}
		return nil
	default:
		// seq is older than head, within [1, width) positions back.
		pos := uint32(-d)
		if pos >= b.width {
			return ferrors.ErrTooOld
		}
		if b.bit(pos) {
			return ferrors.ErrDuplicate
		}
		b.setBit(pos)
		return nil
	}
}

// Contains reports whether seq has been recorded as seen. It does not
// distinguish "never inserted" from "too old to know"; both read false.
func (b *Bitfield) Contains(seq SeqNum) bool {
	if !b.ready {
		return false
	}
	d := Diff(seq, b.head)
	if d > 0 {
		return false
	}
	pos := uint32(-d)
	if pos >= b.width {
		return false
	}
	return b.bit(pos)
}

// Head returns the most-recently inserted sequence number and whether
// any insert has happened yet.
func (b *Bitfield) Head() (SeqNum, bool) {
	return b.head, b.ready
}

// AckBits returns the 32-bit one-hot ack window for the 32 predecessors
// of the current head, suitable for a packet header's ack_bits field.
// Only meaningful when the bitfield width is >= 32.
func (b *Bitfield) AckBits() uint32 {
	var bits uint32
	for i := uint32(0); i < 32 && i < b.width; i++ {
		if b.bit(i + 1) {
			bits |= 1 << i
		}
	}
	return bits
}

// Acked walks the 32 predecessors of (ack, ackBits) — the wire encoding
// of a packet-ack window — and calls fn for every sequence number the
// peer has confirmed. ackBits bit i (0-indexed from the LSB) represents
// ack-(i+1).
func Acked(ack SeqNum, ackBits uint32, fn func(SeqNum)) {
	fn(ack)
	for i := uint32(0); i < 32; i++ {
		if ackBits&(uint32(1)<<i) != 0 {
			fn(Add(ack, -int32(i+1)))
		}
	}
}
