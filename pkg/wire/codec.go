package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/ferrors"
	"github.com/fosonet/fosonet/pkg/seqnum"
)

// Message is one application- or handshake-level record carried inside a
// packet's payload: a message sequence number, its own type (meaningful
// for multi-message packets; inherited from the outer packet type for
// single-message packets), and its bytes.
type Message struct {
	Seq     seqnum.SeqNum
	Type    Type
	Payload []byte
}

// perMessageOverhead returns the in-payload byte cost of encoding one
// message, given how many messages share the packet: 2 bytes (just the
// seq) when it is the only message, 5 bytes (len+seq+type) otherwise.
func perMessageOverhead(totalCount int) int {
	if totalCount == 1 {
		return 2
	}
	return 5
}

// Overhead returns the in-payload byte cost of adding one more message
// to a packet that will end up with totalCount messages in total. Used
// by the connection's greedy packer to decide whether a candidate
// message still fits under MaxPayload.
func Overhead(totalCount int) int { return perMessageOverhead(totalCount) }

// BuildPayload packs messages into a single payload buffer per spec: a
// lone message is just seq||bytes; two or more messages are each
// len||seq||type||bytes.
func BuildPayload(messages []Message) []byte {
	if len(messages) == 1 {
		m := messages[0]
		buf := make([]byte, 2+len(m.Payload))
		binary.BigEndian.PutUint16(buf[0:2], uint16(m.Seq))
		copy(buf[2:], m.Payload)
		return buf
	}

	size := 0
	for _, m := range messages {
		size += 5 + len(m.Payload)
	}
	buf := make([]byte, 0, size)
	for _, m := range messages {
		var hdr [5]byte
		binary.BigEndian.PutUint16(hdr[0:2], uint16(len(m.Payload)))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(m.Seq))
		hdr[4] = byte(m.Type)
		buf = append(buf, hdr[:]...)
		buf = append(buf, m.Payload...)
	}
	return buf
}

// ParsePayload splits a decoded payload back into Message records. For a
// single-message packet (count == 1) the message inherits outerType and
// the whole payload is its body. count must match Header.MessageCount.
func ParsePayload(payload []byte, count int, outerType Type) ([]Message, error) {
	if count == 1 {
		if len(payload) < 2 {
			return nil, ferrors.NewPacketError("payload shorter than single-message header", nil)
		}
		seq := seqnum.SeqNum(binary.BigEndian.Uint16(payload[0:2]))
		body := make([]byte, len(payload)-2)
		copy(body, payload[2:])
		return []Message{{Seq: seq, Type: outerType, Payload: body}}, nil
	}

	messages := make([]Message, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		if offset+5 > len(payload) {
			return nil, ferrors.NewPacketError("truncated multi-message header", nil)
		}
		length := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
		seq := seqnum.SeqNum(binary.BigEndian.Uint16(payload[offset+2 : offset+4]))
		typ := Type(payload[offset+4])
		offset += 5
		if offset+length > len(payload) {
			return nil, ferrors.NewPacketError("truncated message body", nil)
		}
		body := make([]byte, length)
		copy(body, payload[offset:offset+length])
		offset += length
		messages = append(messages, Message{Seq: seq, Type: typ, Payload: body})
	}
	if offset != len(payload) {
		return nil, ferrors.NewPacketError("trailing bytes after last message", nil)
	}
	return messages, nil
}

// BuildHeader fills in Length and MessageCount from the packed payload
// and the message list, leaving the caller to set Magic/SendTime/Seq/Ack/
// Type/AckBits.
func BuildHeader(base Header, payload []byte, messages []Message) Header {
	base.Length = uint16(len(payload))
	base.MessageCount = uint8(len(messages))
	return base
}

// Encode serializes header+payload into a wire datagram. If key is
// non-nil and header.Type is not a hello type, the payload is AES-GCM
// sealed with the marshaled header as AAD and its first 12 bytes as IV,
// with the tag appended. Otherwise the payload is followed by a CRC32
// of (header||payload).
func Encode(header Header, payload []byte, key []byte) ([]byte, error) {
	headerBytes := header.Marshal()

	if key != nil && !header.Type.IsHello() {
		sealed, err := fcrypto.Seal(key, headerBytes[:IVSize], headerBytes, payload)
		if err != nil {
			return nil, ferrors.NewPacketError("aead seal failed", err)
		}
		out := make([]byte, 0, len(headerBytes)+len(sealed))
		out = append(out, headerBytes...)
		out = append(out, sealed...)
		return out, nil
	}

	out := make([]byte, 0, len(headerBytes)+len(payload)+CRCSize)
	out = append(out, headerBytes...)
	out = append(out, payload...)
	sum := fcrypto.CRC32(out)
	var sumBytes [4]byte
	binary.BigEndian.PutUint32(sumBytes[:], sum)
	out = append(out, sumBytes[:]...)
	return out, nil
}

// Decode parses a raw datagram into its header and decoded Message
// records. key must match the key Encode was called with on the sender
// side (nil for hello packets). Any AEAD tag or CRC mismatch, or malformed
// framing, is reported as a *ferrors.PacketError; callers drop the
// datagram and count it, never surface it further.
func Decode(datagram []byte, key []byte) (Header, []Message, error) {
	header, err := UnmarshalHeader(datagram)
	if err != nil {
		return Header{}, nil, ferrors.NewPacketError("short header", err)
	}
	headerBytes := datagram[:HeaderSize]
	body := datagram[HeaderSize:]

	var payload []byte
	if key != nil && !header.Type.IsHello() {
		if len(body) < AEADOverhead {
			return Header{}, nil, ferrors.NewPacketError("ciphertext shorter than tag", nil)
		}
		payload, err = fcrypto.Open(key, headerBytes[:IVSize], headerBytes, body)
		if err != nil {
			return Header{}, nil, ferrors.NewPacketError("aead open failed", err)
		}
	} else {
		if len(body) < CRCSize {
			return Header{}, nil, ferrors.NewPacketError("body shorter than crc tail", nil)
		}
		split := len(body) - CRCSize
		candidate := body[:split]
		wantSum := binary.BigEndian.Uint32(body[split:])
		gotSum := fcrypto.CRC32(datagram[:HeaderSize+split])
		if gotSum != wantSum {
			return Header{}, nil, ferrors.NewPacketError("crc mismatch", nil)
		}
		payload = candidate
	}

	if int(header.Length) != len(payload) {
		return Header{}, nil, ferrors.NewPacketError(
			fmt.Sprintf("length mismatch: header says %d, got %d", header.Length, len(payload)), nil)
	}

	messages, err := ParsePayload(payload, int(header.MessageCount), header.Type)
	if err != nil {
		return Header{}, nil, err
	}
	return header, messages, nil
}
