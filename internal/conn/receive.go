package conn

import (
	"time"

	"github.com/fosonet/fosonet/pkg/fragment"
	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/wire"
)

// latencyAlpha is the exponential-moving-average weight applied to each
// new round-trip sample (a half-RTT one-way latency estimate).
const latencyAlpha = 0.1

// ReceiveDatagram decodes and applies one datagram already routed to
// this connection (already established session keys in play). It
// handles packet-seq dedup, ack processing (resolving pendingAck and
// inFlight, updating the latency EMA), message-seq dedup, fragment
// reassembly, and delivery of accepted application payloads into
// IncomingMessages. Any malformed or duplicate datagram is a silent
// drop, counted in Stats, never surfaced as an error to the caller.
func (c *Connection) ReceiveDatagram(now time.Time, datagram []byte) {
	header, messages, err := wire.Decode(datagram, c.recvKey)
	if err != nil {
		c.Stats.RecordDropped()
		return
	}

	if err := c.packetBitfield.Insert(header.Seq); err != nil {
		c.Stats.RecordDropped()
		return
	}

	c.lastRecv = now
	c.Stats.RecordRecv(len(datagram))

	c.processAcks(now, header)

	for _, m := range messages {
		c.deliverMessage(now, m)
	}

	c.fragmentRecv.Sweep(now)
}

// processAcks walks the packet-ack window carried in header and resolves
// every packet (and its messages) the peer has confirmed.
func (c *Connection) processAcks(now time.Time, header wire.Header) {
	seqnum.Acked(header.Ack, header.AckBits, func(seq seqnum.SeqNum) {
		rec, ok := c.pendingAck[seq]
		if !ok {
			return
		}
		delete(c.pendingAck, seq)

		rtt := now.Sub(rec.sendTime).Seconds()
		sample := rtt / 2
		if c.latency == 0 {
			c.latency = sample
		} else {
			c.latency = c.latency*(1-latencyAlpha) + sample*latencyAlpha
		}
		c.Stats.RecordLatency(sample)

		for _, m := range rec.messages {
			if m.resolved {
				continue
			}
			m.resolved = true
			delete(c.inFlight, m.seq)
			if m.fragGroup != nil {
				m.fragGroup.chunkAcked()
			} else if m.callback != nil {
				m.callback(true)
			}
		}
	})
}

// deliverMessage applies message-level dedup and dispatches one decoded
// message by type.
func (c *Connection) deliverMessage(now time.Time, m wire.Message) {
	if m.Type == wire.TypeKeepAlive {
		return
	}

	if err := c.messageBitfield.Insert(m.Seq); err != nil {
		c.Stats.RecordDropped()
		return
	}

	switch m.Type {
	case wire.TypeApp:
		c.incoming = append(c.incoming, AppMessage{MsgSeq: m.Seq, Payload: m.Payload})

	case wire.TypeAppFragment:
		chunk, err := fragment.Decode(m.Payload)
		if err != nil {
			c.Stats.RecordDropped()
			return
		}
		if payload, firstSeq, ok := c.fragmentRecv.Accept(now, m.Seq, chunk); ok {
			c.incoming = append(c.incoming, AppMessage{MsgSeq: firstSeq, Payload: payload})
		}

	case wire.TypeChallengeResp:
		// Only meaningful server-side during the handshake; stash the
		// token for the server context to validate via TakeChallenge.
		if token, err := decodeChallengeRespBody(m.Payload); err == nil {
			c.challengeToken = token
			c.challengePending = true
		} else {
			c.Stats.RecordDropped()
		}

	case wire.TypeDisconnect:
		// Only record the transition here; the scheduler's per-tick
		// established-connection sweep is the single place OnDisconnect
		// fires (via DropEstablished), matching the one-hook-call
		// contract a peer-initiated disconnect must honor.
		wasDisconnecting := c.Status == StatusDisconnecting
		c.Status = StatusDisconnected
		if wasDisconnecting && c.disconnectCallback != nil {
			cb := c.disconnectCallback
			c.disconnectCallback = nil
			cb(true)
		}

	default:
		c.Stats.RecordDropped()
	}
}
