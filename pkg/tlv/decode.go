package tlv

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decoder reads tagged values out of a byte buffer in order.
type Decoder struct {
	data []byte
	off  int
	reg  *Registry
}

// NewDecoder creates a decoder over data holding reg. The decoding
// methods do not consult it; with a nil reg, user-typed values still
// decode through DecodeUserType.
func NewDecoder(data []byte, reg *Registry) *Decoder {
	return &Decoder{data: data, reg: reg}
}

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.data) - d.off }

func (d *Decoder) need(n int) error {
	if d.off+n > len(d.data) {
		return fmt.Errorf("tlv: unexpected end of buffer (need %d, have %d)", n, len(d.data)-d.off)
	}
	return nil
}

func (d *Decoder) readTag() (Tag, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	t := Tag(binary.BigEndian.Uint16(d.data[d.off : d.off+2]))
	d.off += 2
	return t, nil
}

// PeekTag returns the next tag without consuming it.
func (d *Decoder) PeekTag() (Tag, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	return Tag(binary.BigEndian.Uint16(d.data[d.off : d.off+2])), nil
}

// DecodeInt reads a tagged signed integer of any width and
// sign-extends it to int64.
func (d *Decoder) DecodeInt() (int64, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, err
	}
	switch tag {
	case TagInt8:
		if err := d.need(1); err != nil {
			return 0, err
		}
		v := int64(int8(d.data[d.off]))
		d.off++
		return v, nil
	case TagInt16:
		if err := d.need(2); err != nil {
			return 0, err
		}
		v := int64(int16(binary.BigEndian.Uint16(d.data[d.off : d.off+2])))
		d.off += 2
		return v, nil
	case TagInt32:
		if err := d.need(4); err != nil {
			return 0, err
		}
		v := int64(int32(binary.BigEndian.Uint32(d.data[d.off : d.off+4])))
		d.off += 4
		return v, nil
	case TagInt64:
		if err := d.need(8); err != nil {
			return 0, err
		}
		v := int64(binary.BigEndian.Uint64(d.data[d.off : d.off+8]))
		d.off += 8
		return v, nil
	default:
		return 0, fmt.Errorf("tlv: expected signed-integer tag, got %d", tag)
	}
}

// DecodeUint reads a tagged unsigned integer of any width.
func (d *Decoder) DecodeUint() (uint64, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, err
	}
	switch tag {
	case TagUint8:
		if err := d.need(1); err != nil {
			return 0, err
		}
		v := uint64(d.data[d.off])
		d.off++
		return v, nil
	case TagUint16:
		if err := d.need(2); err != nil {
			return 0, err
		}
		v := uint64(binary.BigEndian.Uint16(d.data[d.off : d.off+2]))
		d.off += 2
		return v, nil
	case TagUint32:
		if err := d.need(4); err != nil {
			return 0, err
		}
		v := uint64(binary.BigEndian.Uint32(d.data[d.off : d.off+4]))
		d.off += 4
		return v, nil
	case TagUint64:
		if err := d.need(8); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(d.data[d.off : d.off+8])
		d.off += 8
		return v, nil
	default:
		return 0, fmt.Errorf("tlv: expected unsigned-integer tag, got %d", tag)
	}
}

// DecodeBool reads a tagged boolean.
func (d *Decoder) DecodeBool() (bool, error) {
	tag, err := d.readTag()
	if err != nil {
		return false, err
	}
	if tag != TagBool {
		return false, fmt.Errorf("tlv: expected bool tag, got %d", tag)
	}
	if err := d.need(1); err != nil {
		return false, err
	}
	v := d.data[d.off] != 0
	d.off++
	return v, nil
}

// DecodeFloat32 reads a tagged 32-bit float.
func (d *Decoder) DecodeFloat32() (float32, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, err
	}
	if tag != TagFloat32 {
		return 0, fmt.Errorf("tlv: expected float32 tag, got %d", tag)
	}
	if err := d.need(4); err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint32(d.data[d.off : d.off+4])
	d.off += 4
	return math.Float32frombits(bits), nil
}

// DecodeFloat64 reads a tagged 64-bit float.
func (d *Decoder) DecodeFloat64() (float64, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, err
	}
	if tag != TagFloat64 {
		return 0, fmt.Errorf("tlv: expected float64 tag, got %d", tag)
	}
	if err := d.need(8); err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint64(d.data[d.off : d.off+8])
	d.off += 8
	return math.Float64frombits(bits), nil
}

// DecodeString reads a tagged, length-prefixed UTF-8 string.
func (d *Decoder) DecodeString() (string, error) {
	tag, err := d.readTag()
	if err != nil {
		return "", err
	}
	if tag != TagString {
		return "", fmt.Errorf("tlv: expected string tag, got %d", tag)
	}
	if err := d.need(4); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(d.data[d.off : d.off+4])
	d.off += 4
	if n > MaxStringBytes {
		return "", fmt.Errorf("tlv: string length %d exceeds max %d", n, MaxStringBytes)
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := string(d.data[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}

// DecodeBytes reads a tagged, length-prefixed byte string.
func (d *Decoder) DecodeBytes() ([]byte, error) {
	tag, err := d.readTag()
	if err != nil {
		return nil, err
	}
	if tag != TagBytes {
		return nil, fmt.Errorf("tlv: expected bytes tag, got %d", tag)
	}
	if err := d.need(4); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(d.data[d.off : d.off+4])
	d.off += 4
	if n > MaxStringBytes {
		return nil, fmt.Errorf("tlv: byte string length %d exceeds max %d", n, MaxStringBytes)
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.data[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

// DecodeNull consumes a tagged null marker.
func (d *Decoder) DecodeNull() error {
	tag, err := d.readTag()
	if err != nil {
		return err
	}
	if tag != TagNull {
		return fmt.Errorf("tlv: expected null tag, got %d", tag)
	}
	return nil
}

// decodeContainerHeader reads and validates a container's tag and count.
func (d *Decoder) decodeContainerHeader(want Tag) (int, error) {
	tag, err := d.readTag()
	if err != nil {
		return 0, err
	}
	if tag != want {
		return 0, fmt.Errorf("tlv: expected container tag %d, got %d", want, tag)
	}
	if err := d.need(4); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(d.data[d.off : d.off+4])
	d.off += 4
	if n > MaxContainerElements {
		return 0, fmt.Errorf("tlv: container of %d elements exceeds max %d", n, MaxContainerElements)
	}
	return int(n), nil
}

// DecodeList reads a list header and invokes dec once per element, in
// order, leaving the caller to pull the element's value off d.
func (d *Decoder) DecodeList(dec func(i int) error) error {
	n, err := d.decodeContainerHeader(TagList)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := dec(i); err != nil {
			return err
		}
	}
	return nil
}

// DecodeSet is DecodeList's counterpart for the wire-identical Set tag.
func (d *Decoder) DecodeSet(dec func(i int) error) error {
	n, err := d.decodeContainerHeader(TagSet)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := dec(i); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMap reads a map header and invokes dec once per entry; dec must
// consume exactly one key followed by exactly one value per call.
func (d *Decoder) DecodeMap(dec func(i int) error) error {
	n, err := d.decodeContainerHeader(TagMap)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := dec(i); err != nil {
			return err
		}
	}
	return nil
}

// DecodeUserType reads the next tag; if it is >= FirstUserTag it is
// passed to decodeFields to populate the caller's type, otherwise an
// error is returned (the tag has been consumed either way).
func (d *Decoder) DecodeUserType(decodeFields func(tag Tag, d *Decoder) error) error {
	tag, err := d.readTag()
	if err != nil {
		return err
	}
	if tag < FirstUserTag {
		return fmt.Errorf("tlv: expected user type tag (>= %d), got %d", FirstUserTag, tag)
	}
	return decodeFields(tag, d)
}
