// Package tlv implements the tagged, self-describing wire format used
// for handshake bodies and application messages: every value is
// prefixed with a 16-bit type tag, integers are width-minimized on
// encode, and user-defined types carry ids that can be listed in a
// Registry so producer and consumer can agree on layout without
// sharing Go types directly.
package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag is the 16-bit type discriminator prefixing every encoded value.
type Tag uint16

const (
	TagNull Tag = iota
	TagBool
	TagInt8
	TagInt16
	TagInt32
	TagInt64
	TagUint8
	TagUint16
	TagUint32
	TagUint64
	TagFloat32
	TagFloat64
	TagString
	TagBytes
	TagList
	TagMap
	TagSet
)

// FirstUserTag is the smallest type id a caller may register via
// Registry.Register; tags below it are reserved for built-in scalars and
// containers.
const FirstUserTag Tag = 128

// MaxStringBytes and MaxContainerElements are the length caps §4.8
// requires: strings/byte arrays up to 2^20 bytes, containers up to
// 2^14 elements.
const (
	MaxStringBytes       = 1 << 20
	MaxContainerElements = 1 << 14
)

// Encoder serializes values into the tagged wire format.
type Encoder struct {
	buf []byte
	reg *Registry
}

// NewEncoder creates an encoder holding reg. The encoding methods do
// not consult it, so nil works for every payload.
func NewEncoder(reg *Registry) *Encoder {
	return &Encoder{reg: reg}
}

// Bytes returns the accumulated encoded output.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) writeTag(t Tag) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(t))
	e.buf = append(e.buf, b[:]...)
}

// EncodeBool writes a tagged boolean.
func (e *Encoder) EncodeBool(v bool) {
	e.writeTag(TagBool)
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// EncodeInt writes a tagged signed integer, choosing the narrowest of
// int8/16/32/64 that represents v exactly ("width-minimized" per spec).
func (e *Encoder) EncodeInt(v int64) {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.writeTag(TagInt8)
		e.buf = append(e.buf, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.writeTag(TagInt16)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(v)))
		e.buf = append(e.buf, b[:]...)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.writeTag(TagInt32)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(v)))
		e.buf = append(e.buf, b[:]...)
	default:
		e.writeTag(TagInt64)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		e.buf = append(e.buf, b[:]...)
	}
}

// EncodeUint writes a tagged unsigned integer, width-minimized the same
// way as EncodeInt.
func (e *Encoder) EncodeUint(v uint64) {
	switch {
	case v <= math.MaxUint8:
		e.writeTag(TagUint8)
		e.buf = append(e.buf, byte(v))
	case v <= math.MaxUint16:
		e.writeTag(TagUint16)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		e.buf = append(e.buf, b[:]...)
	case v <= math.MaxUint32:
		e.writeTag(TagUint32)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		e.buf = append(e.buf, b[:]...)
	default:
		e.writeTag(TagUint64)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		e.buf = append(e.buf, b[:]...)
	}
}

// EncodeFloat32 writes a tagged 32-bit float.
func (e *Encoder) EncodeFloat32(v float32) {
	e.writeTag(TagFloat32)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
	e.buf = append(e.buf, b[:]...)
}

// EncodeFloat64 writes a tagged 64-bit float.
func (e *Encoder) EncodeFloat64(v float64) {
	e.writeTag(TagFloat64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf = append(e.buf, b[:]...)
}

// EncodeNull writes a tagged null marker.
func (e *Encoder) EncodeNull() {
	e.writeTag(TagNull)
}

// EncodeString writes a tagged, length-prefixed UTF-8 string.
func (e *Encoder) EncodeString(s string) error {
	if len(s) > MaxStringBytes {
		return fmt.Errorf("tlv: string of %d bytes exceeds max %d", len(s), MaxStringBytes)
	}
	e.writeTag(TagString)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(s)))
	e.buf = append(e.buf, b[:]...)
	e.buf = append(e.buf, s...)
	return nil
}

// EncodeBytes writes a tagged, length-prefixed byte string.
func (e *Encoder) EncodeBytes(b []byte) error {
	if len(b) > MaxStringBytes {
		return fmt.Errorf("tlv: byte string of %d bytes exceeds max %d", len(b), MaxStringBytes)
	}
	e.writeTag(TagBytes)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(b)))
	e.buf = append(e.buf, lenBytes[:]...)
	e.buf = append(e.buf, b...)
	return nil
}

// EncodeList writes a tagged, length-prefixed sequence, recursively
// encoding each element with enc.
func (e *Encoder) EncodeList(n int, enc func(i int) error) error {
	return e.encodeContainer(TagList, n, enc)
}

// EncodeSet writes a tagged, length-prefixed set (wire-identical to a
// list; the tag alone signals dedup-at-the-application-level intent).
func (e *Encoder) EncodeSet(n int, enc func(i int) error) error {
	return e.encodeContainer(TagSet, n, enc)
}

func (e *Encoder) encodeContainer(tag Tag, n int, enc func(i int) error) error {
	if n > MaxContainerElements {
		return fmt.Errorf("tlv: container of %d elements exceeds max %d", n, MaxContainerElements)
	}
	e.writeTag(tag)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	e.buf = append(e.buf, b[:]...)
	for i := 0; i < n; i++ {
		if err := enc(i); err != nil {
			return err
		}
	}
	return nil
}

// EncodeMap writes a tagged, length-prefixed sequence of key/value
// pairs; enc is called once per entry and must encode exactly one key
// followed by exactly one value onto e.
func (e *Encoder) EncodeMap(n int, enc func(i int) error) error {
	if n > MaxContainerElements {
		return fmt.Errorf("tlv: map of %d entries exceeds max %d", n, MaxContainerElements)
	}
	e.writeTag(TagMap)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	e.buf = append(e.buf, b[:]...)
	for i := 0; i < n; i++ {
		if err := enc(i); err != nil {
			return err
		}
	}
	return nil
}

// EncodeUserType writes the id tag followed by the fields the caller's
// Encode callback produces. No registry lookup is made for id.
func (e *Encoder) EncodeUserType(id Tag, encodeFields func(e *Encoder) error) error {
	if id < FirstUserTag {
		return fmt.Errorf("tlv: user type id %d below reserved floor %d", id, FirstUserTag)
	}
	e.writeTag(id)
	return encodeFields(e)
}
