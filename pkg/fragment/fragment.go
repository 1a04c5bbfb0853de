// Package fragment splits oversized application payloads across
// sequenced APP_FRAGMENT messages and reassembles them on the receiving
// side, with a wall-clock timeout to garbage-collect abandoned reassembly
// contexts.
package fragment

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fosonet/fosonet/pkg/ferrors"
	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/wire"
)

// headerSize is the (frag-id, 1-based index, total count) prefix on
// every fragment payload: three big-endian uint16s.
const headerSize = 6

// MaxFragmentSize is the largest chunk a single fragment can carry,
// derived from the packet payload budget minus the fragment header and
// the worst-case (multi-message) in-payload message overhead.
const MaxFragmentSize = wire.MaxPayload - headerSize - 5

// chunkSize is the size fosonet splits at for all but the final chunk.
const chunkSize = 1024

// MaxFragments bounds how many fragments one logical message may span.
const MaxFragments = wire.MaxFragmentCount

// MaxPayloadSize is the largest logical application payload the
// fragment sender will accept.
const MaxPayloadSize = MaxFragmentSize * MaxFragments

// Chunk is one outgoing fragment's wire payload (header + slice).
type Chunk struct {
	FragID uint16
	Index  uint16 // 1-based
	Count  uint16
	Data   []byte
}

// Encode serializes the chunk as an APP_FRAGMENT message payload.
func (c Chunk) Encode() []byte {
	buf := make([]byte, headerSize+len(c.Data))
	binary.BigEndian.PutUint16(buf[0:2], c.FragID)
	binary.BigEndian.PutUint16(buf[2:4], c.Index)
	binary.BigEndian.PutUint16(buf[4:6], c.Count)
	copy(buf[headerSize:], c.Data)
	return buf
}

// Decode parses an APP_FRAGMENT message payload back into a Chunk.
func Decode(payload []byte) (Chunk, error) {
	if len(payload) < headerSize {
		return Chunk{}, ferrors.NewPacketError("fragment payload shorter than header", nil)
	}
	return Chunk{
		FragID: binary.BigEndian.Uint16(payload[0:2]),
		Index:  binary.BigEndian.Uint16(payload[2:4]),
		Count:  binary.BigEndian.Uint16(payload[4:6]),
		Data:   payload[headerSize:],
	}, nil
}

// Split breaks payload into Chunks of at most chunkSize bytes each,
// except the final chunk which may run up to MaxFragmentSize so a
// small remainder is never stranded in its own tiny datagram. fragID
// identifies this logical message's fragments on the wire.
func Split(fragID uint16, payload []byte) ([]Chunk, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &ferrors.PayloadTooLargeError{Size: len(payload), MaxSize: MaxPayloadSize}
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("fragment: refusing to split an empty payload")
	}

	var pieces [][]byte
	remaining := payload
	for len(remaining) > MaxFragmentSize {
		pieces = append(pieces, remaining[:chunkSize])
		remaining = remaining[chunkSize:]
	}
	pieces = append(pieces, remaining)

	if len(pieces) > MaxFragments {
		return nil, &ferrors.PayloadTooLargeError{Size: len(payload), MaxSize: MaxPayloadSize}
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{
			FragID: fragID,
			Index:  uint16(i + 1),
			Count:  uint16(len(pieces)),
			Data:   p,
		}
	}
	return chunks, nil
}

// IDCounter hands out wrapping 16-bit fragment ids for outgoing
// multi-fragment messages. Zero is a valid fragment id (unlike SeqNum,
// there is no reserved value here).
type IDCounter struct {
	next uint16
}

// Next returns the next fragment id and advances the counter.
func (c *IDCounter) Next() uint16 {
	id := c.next
	c.next++
	return id
}

// receiveContext tracks in-progress reassembly of one logical message.
type receiveContext struct {
	total       int
	filled      int
	slots       [][]byte
	firstMsgSeq seqnum.SeqNum
	createdAt   time.Time
}

func (c *receiveContext) expired(now time.Time) bool {
	deadline := time.Duration(float64(time.Second) * (1 + 0.5*float64(c.total)))
	return now.Sub(c.createdAt) > deadline
}

// Receiver reassembles fragments keyed by frag-id. It is not safe for
// concurrent use; the connection that owns it serializes access.
type Receiver struct {
	contexts map[uint16]*receiveContext
}

// NewReceiver constructs an empty fragment reassembly table.
func NewReceiver() *Receiver {
	return &Receiver{contexts: make(map[uint16]*receiveContext)}
}

// Accept stores one incoming fragment (decoded from an APP_FRAGMENT
// message, with msgSeq the wire message-seq it arrived with). It
// returns (payload, firstMsgSeq, true) once every slot for that frag-id
// is filled, reassembling in index order and then forgetting the
// context; otherwise ok is false.
func (r *Receiver) Accept(now time.Time, msgSeq seqnum.SeqNum, c Chunk) (payload []byte, firstMsgSeq seqnum.SeqNum, ok bool) {
	ctx, exists := r.contexts[c.FragID]
	if !exists {
		ctx = &receiveContext{
			total:       int(c.Count),
			slots:       make([][]byte, c.Count),
			firstMsgSeq: msgSeq,
			createdAt:   now,
		}
		r.contexts[c.FragID] = ctx
	}

	idx := int(c.Index) - 1
	if idx < 0 || idx >= len(ctx.slots) {
		return nil, 0, false
	}
	if ctx.slots[idx] == nil {
		ctx.slots[idx] = c.Data
		ctx.filled++
	}

	if ctx.filled < ctx.total {
		return nil, 0, false
	}

	size := 0
	for _, s := range ctx.slots {
		size += len(s)
	}
	out := make([]byte, 0, size)
	for _, s := range ctx.slots {
		out = append(out, s...)
	}
	delete(r.contexts, c.FragID)
	return out, ctx.firstMsgSeq, true
}

// Sweep removes reassembly contexts that have exceeded their
// 1+0.5*count-second timeout, per spec. Returns how many were purged.
func (r *Receiver) Sweep(now time.Time) int {
	purged := 0
	for id, ctx := range r.contexts {
		if ctx.expired(now) {
			delete(r.contexts, id)
			purged++
		}
	}
	return purged
}
