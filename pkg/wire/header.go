// Package wire implements the fosonet packet framing: the 20-byte packet
// header, packet type enumeration, and the codec that packs/unpacks
// multi-message payloads and applies AEAD encryption or a CRC32 tail.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fosonet/fosonet/pkg/seqnum"
)

// Magic tags identify direction on the wire; they are ASCII and also
// serve, together with send time and seq, to keep AEAD IVs unique
// between client and server traffic.
var (
	MagicClientToServer = [4]byte{'F', 'S', 'O', 'S'}
	MagicServerToClient = [4]byte{'F', 'S', 'O', 'C'}
)

// Type is the 1-byte packet type tag.
type Type byte

const (
	TypeUnknown Type = iota
	TypeClientHello
	TypeServerHello
	TypeChallengeResp
	TypeKeepAlive
	TypeDisconnect
	TypeApp
	TypeAppFragment
)

func (t Type) String() string {
	switch t {
	case TypeClientHello:
		return "CLIENT_HELLO"
	case TypeServerHello:
		return "SERVER_HELLO"
	case TypeChallengeResp:
		return "CHALLENGE_RESP"
	case TypeKeepAlive:
		return "KEEP_ALIVE"
	case TypeDisconnect:
		return "DISCONNECT"
	case TypeApp:
		return "APP"
	case TypeAppFragment:
		return "APP_FRAGMENT"
	default:
		return "UNKNOWN"
	}
}

// IsHello reports whether t is a pre-session-key handshake packet type
// that is CRC-protected rather than AEAD-encrypted.
func (t Type) IsHello() bool {
	return t == TypeClientHello || t == TypeServerHello
}

const (
	// MTU is the assumed path MTU.
	MTU = 1500
	// UDPHeaderBudget accounts for the IP+UDP header overhead.
	UDPHeaderBudget = 28
	// MaxSize is the largest datagram fosonet will ever emit.
	MaxSize = MTU - UDPHeaderBudget // 1472
	// HeaderSize is the fixed packet header length in bytes.
	HeaderSize = 20
	// AEADOverhead is the AES-GCM tag length appended after the payload.
	AEADOverhead = 16
	// MaxPayload is the largest payload (pre-AEAD-tag) a single packet
	// can carry: MaxSize minus header minus tag.
	MaxPayload = MaxSize - HeaderSize - AEADOverhead // 1436

	// IVSize is the number of header bytes used as the AEAD nonce.
	IVSize = 12
	// CRCSize is the unencrypted handshake packets' trailing checksum size.
	CRCSize = 4

	// MaxFragmentCount bounds fragmented-message size (see pkg/fragment).
	MaxFragmentCount = 0x2000
)

// Header is the fixed 20-byte packet header. The first 12 bytes
// (Magic+SendTime+Seq+Ack) double as the AEAD IV; all 20 bytes are AEAD AAD.
type Header struct {
	Magic        [4]byte
	SendTime     uint32 // whole seconds since epoch
	Seq          seqnum.SeqNum
	Ack          seqnum.SeqNum
	Type         Type
	Length       uint16 // payload length in bytes
	MessageCount uint8
	AckBits      uint32
}

// Marshal packs h into a fresh 20-byte big-endian buffer.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], h.Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.SendTime)
	binary.BigEndian.PutUint16(buf[8:10], uint16(h.Seq))
	binary.BigEndian.PutUint16(buf[10:12], uint16(h.Ack))
	buf[12] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[13:15], h.Length)
	buf[15] = h.MessageCount
	binary.BigEndian.PutUint32(buf[16:20], h.AckBits)
	return buf
}

// UnmarshalHeader parses the first 20 bytes of data into a Header.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wire: short header: %d bytes", len(data))
	}
	var h Header
	copy(h.Magic[:], data[0:4])
	h.SendTime = binary.BigEndian.Uint32(data[4:8])
	h.Seq = seqnum.SeqNum(binary.BigEndian.Uint16(data[8:10]))
	h.Ack = seqnum.SeqNum(binary.BigEndian.Uint16(data[10:12]))
	h.Type = Type(data[12])
	h.Length = binary.BigEndian.Uint16(data[13:15])
	h.MessageCount = data[15]
	h.AckBits = binary.BigEndian.Uint32(data[16:20])
	return h, nil
}

// IV returns the first IVSize bytes of the marshaled header, the AEAD
// nonce for this packet.
func (h Header) IV() []byte {
	return h.Marshal()[:IVSize]
}
