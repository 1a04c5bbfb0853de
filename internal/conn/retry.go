package conn

import (
	"time"

	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/wire"
)

// RetryMode controls how a sent message is resent when its containing
// packet goes unacknowledged.
type RetryMode int

const (
	// RetryNone sends the message exactly once; on timeout the
	// callback fires false and the message is forgotten.
	RetryNone RetryMode = iota
	// RetryBestEffort resends the message at keep-alive cadence until
	// it is acked or the overall outgoing-timeout elapses.
	RetryBestEffort
	// RetryOnTimeout re-enqueues a fresh copy of the message (new
	// msg-seq) on every timeout, indefinitely, until acked or the
	// connection disconnects.
	RetryOnTimeout
)

// pendingMessage is one application- or handshake-level record waiting
// to be packed into a datagram, or already sent and awaiting ack.
//
// assembledTime is fixed at creation and is the basis for the
// per-message outgoing-timeout ("outgoing-timeout from assembly to
// ack"); lastAttemptTime is updated every time the message
// is actually included in a built packet and gates the periodic resend
// cadence for BEST_EFFORT / RETRY_ON_TIMEOUT messages so they are not
// resent every single tick once merely eligible.
type pendingMessage struct {
	seq             seqnum.SeqNum
	msgType         wire.Type
	payload         []byte
	retry           RetryMode
	callback        func(bool)
	assembledTime   time.Time
	lastAttemptTime time.Time
	resolved        bool

	// fragGroup is non-nil when this message is one chunk of a
	// fragmented send; its completion (not this message's own ack)
	// drives the user callback.
	fragGroup *fragmentSend
}

// fragmentSend tracks the chunks of one oversized Send() call so the
// user callback fires exactly once, when every chunk has been acked (or
// the first unrecoverable timeout occurs under RetryNone).
type fragmentSend struct {
	total     int
	acked     int
	done      bool
	userRetry RetryMode
	callback  func(bool)
}

func (g *fragmentSend) chunkAcked() {
	if g == nil || g.done {
		return
	}
	g.acked++
	if g.acked >= g.total {
		g.done = true
		if g.callback != nil {
			g.callback(true)
		}
	}
}

func (g *fragmentSend) chunkFailed() {
	if g == nil || g.done {
		return
	}
	if g.userRetry == RetryNone {
		g.done = true
		if g.callback != nil {
			g.callback(false)
		}
	}
	// BestEffort/RetryOnTimeout chunks are individually resent by the
	// normal pending-retry machinery; the group only resolves false
	// once, for RetryNone sends.
}

// packetRecord is what the pending-ack table stores per outgoing
// packet-seq: the time it was sent and the messages it carried, so an
// ack (or timeout) of the packet resolves every message's callback.
type packetRecord struct {
	sendTime time.Time
	messages []*pendingMessage
}
