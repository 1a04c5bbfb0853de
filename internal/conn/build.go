package conn

import (
	"time"

	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/wire"
)

// magic returns this connection's outgoing direction tag.
func (c *Connection) magic() [4]byte {
	if c.isServerSide {
		return wire.MagicServerToClient
	}
	return wire.MagicClientToServer
}

// candidateMessages gathers, in priority order, the messages eligible
// for this tick's packet: first any in-flight retryable message whose
// resend cadence has elapsed, then fresh messages off the outgoing
// queue.
func (c *Connection) candidateMessages(now time.Time, resendDelay time.Duration) []*pendingMessage {
	var candidates []*pendingMessage
	for _, m := range c.inFlight {
		if m.resolved || m.retry == RetryNone {
			continue
		}
		if now.Sub(m.lastAttemptTime) >= resendDelay {
			candidates = append(candidates, m)
		}
	}
	candidates = append(candidates, c.outgoing...)
	return candidates
}

// BuildPacket assembles at most one outgoing datagram for this tick:
// greedily pack eligible resends and fresh outgoing messages under the
// payload budget, falling back to a bare KEEP_ALIVE if nothing else
// fits and sendKeepAlive is requested, or returning ok=false if there
// is truly nothing to send.
func (c *Connection) BuildPacket(now time.Time, sendKeepAlive bool, resendDelay time.Duration) (datagram []byte, ok bool) {
	if c.Status == StatusDisconnected {
		return nil, false
	}

	candidates := c.candidateMessages(now, resendDelay)
	var selected []*pendingMessage
	cumPayload := 0

	for _, m := range candidates {
		n := len(selected) + 1
		overhead := n * wire.Overhead(n)
		if cumPayload+len(m.payload)+overhead > wire.MaxPayload {
			continue
		}
		selected = append(selected, m)
		cumPayload += len(m.payload)
	}

	isKeepAlive := false
	if len(selected) == 0 {
		if c.Status != StatusConnected || !sendKeepAlive {
			return nil, false
		}
		// KEEP_ALIVE carries no application payload and is never
		// subject to message-dedup, so it costs nothing from the
		// message-seq counter: seqnum.Zero is a placeholder only.
		selected = []*pendingMessage{{seq: seqnum.Zero, msgType: wire.TypeKeepAlive}}
		isKeepAlive = true
	}

	messages := make([]wire.Message, len(selected))
	for i, m := range selected {
		messages[i] = wire.Message{Seq: m.seq, Type: m.msgType, Payload: m.payload}
	}

	ack, hasAck := c.packetBitfield.Head()
	header := wire.Header{
		Magic:    c.magic(),
		SendTime: uint32(now.Unix()),
		Seq:      c.nextPacketSeq(),
		Type:     outerType(selected),
		AckBits:  c.packetBitfield.AckBits(),
	}
	if hasAck {
		header.Ack = ack
	}

	payload := wire.BuildPayload(messages)
	header = wire.BuildHeader(header, payload, messages)

	out, err := wire.Encode(header, payload, c.sendKey)
	if err != nil {
		return nil, false
	}

	rec := &packetRecord{sendTime: now, messages: selected}
	c.pendingAck[header.Seq] = rec

	// Move freshly-sent messages out of the outgoing queue and record
	// every selected message's attempt time; register retryable ones
	// in inFlight so future ticks reconsider them for resend/timeout.
	c.popSentFromOutgoing(selected)
	for _, m := range selected {
		m.lastAttemptTime = now
		if m.assembledTime.IsZero() {
			m.assembledTime = now
		}
		if m.retry != RetryNone {
			c.inFlight[m.seq] = m
		} else if m.msgType != wire.TypeKeepAlive {
			c.inFlight[m.seq] = m
		}
	}

	c.lastSend = now
	if isKeepAlive {
		c.lastKeepAliveSend = now
	}
	c.Stats.RecordSent(len(out))
	return out, true
}

// popSentFromOutgoing removes every message in selected that still
// lives on the outgoing queue (i.e. this is its first transmission).
func (c *Connection) popSentFromOutgoing(selected []*pendingMessage) {
	if len(c.outgoing) == 0 {
		return
	}
	set := make(map[*pendingMessage]struct{}, len(selected))
	for _, m := range selected {
		set[m] = struct{}{}
	}
	remaining := c.outgoing[:0]
	for _, m := range c.outgoing {
		if _, sent := set[m]; sent {
			continue
		}
		remaining = append(remaining, m)
	}
	c.outgoing = remaining
}

// outerType picks the packet-level Type field: a single message's own
// type (so the codec can re-inherit it on decode), or TypeApp as an
// arbitrary valid carrier when multiple messages share the datagram.
func outerType(selected []*pendingMessage) wire.Type {
	if len(selected) == 1 {
		return selected[0].msgType
	}
	return wire.TypeApp
}

// CheckTimeouts resolves every in-flight message whose per-message
// outgoing-timeout has elapsed since it was first assembled.
// RETRY_ON_TIMEOUT messages are re-enqueued as a fresh copy with a new
// msg-seq instead of being resolved, so they are retried indefinitely
// until acked or the connection itself gives up. A timed-out chunk of a
// fragmented BEST_EFFORT send is re-enqueued the same way.
func (c *Connection) CheckTimeouts(now time.Time, outgoingTimeout time.Duration) {
	for seq, m := range c.inFlight {
		if m.resolved || m.assembledTime.IsZero() {
			continue
		}
		if now.Sub(m.assembledTime) <= outgoingTimeout {
			continue
		}

		m.resolved = true
		delete(c.inFlight, seq)

		if m.retry == RetryOnTimeout || (m.fragGroup != nil && m.retry == RetryBestEffort) {
			fresh := c.enqueue(m.msgType, m.payload, m.retry, m.callback)
			fresh.fragGroup = m.fragGroup
			continue
		}

		if m.fragGroup != nil {
			m.fragGroup.chunkFailed()
		} else if m.callback != nil {
			m.callback(false)
		}
	}
}
