// Package conn implements the per-peer connection state machine: the
// handshake, outgoing/incoming message queues, retry and
// acknowledgement bookkeeping, fragment integration, latency
// estimation, keep-alive, and timeout handling that sit between the
// packet codec and the server scheduler / client driver.
package conn

import (
	"net"
	"time"

	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/flog"
	"github.com/fosonet/fosonet/pkg/fragment"
	"github.com/fosonet/fosonet/pkg/seqnum"
	"github.com/fosonet/fosonet/pkg/wire"
	"github.com/google/uuid"
)

// Status is a connection's position in its handshake/session lifecycle.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnecting:
		return "DISCONNECTING"
	case StatusDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// AppMessage is one accepted application-level payload delivered to the
// application in arrival order.
type AppMessage struct {
	MsgSeq  seqnum.SeqNum
	Payload []byte
}

// Connection holds all state for one peer, owned exclusively by the
// scheduler (server side) or the single-threaded client driver — no
// internal locking, per the thread-pinned-mutability design.
type Connection struct {
	ID     uuid.UUID
	Addr   net.Addr
	Status Status

	isServerSide bool
	outgoingDir  fcrypto.Direction // direction this side encrypts with
	incomingDir  fcrypto.Direction // direction this side decrypts with

	sendKey []byte
	recvKey []byte

	Token uint32
	Salt  []byte

	outgoing   []*pendingMessage
	pendingAck map[seqnum.SeqNum]*packetRecord

	// inFlight holds every message that has been included in at least
	// one packet and is not yet resolved (acked or given up), keyed by
	// msg-seq. It is the single source of truth for message-level
	// timeout and resend-cadence bookkeeping (it merges the
	// pending-callback and pending-retry tables; DESIGN.md records this
	// decision).
	inFlight map[seqnum.SeqNum]*pendingMessage

	fragmentRecv *fragment.Receiver
	fragIDs      fragment.IDCounter

	packetBitfield  *seqnum.Bitfield
	messageBitfield *seqnum.Bitfield

	packetSeq seqnum.SeqNum
	msgSeq    seqnum.SeqNum

	latency float64 // EMA, seconds

	lastRecv          time.Time
	lastSend          time.Time
	lastKeepAliveSend time.Time

	Stats *Stats

	incoming []AppMessage

	challengeToken   uint32
	challengePending bool

	connectCallback    func(bool)
	disconnectCallback func(bool)
}

// newConnection builds the shared skeleton for both handshake roles.
func newConnection(addr net.Addr, isServerSide bool, now time.Time) *Connection {
	var outDir, inDir fcrypto.Direction
	if isServerSide {
		outDir, inDir = fcrypto.DirectionServerToClient, fcrypto.DirectionClientToServer
	} else {
		outDir, inDir = fcrypto.DirectionClientToServer, fcrypto.DirectionServerToClient
	}
	return &Connection{
		ID:              uuid.New(),
		Addr:            addr,
		Status:          StatusConnecting,
		isServerSide:    isServerSide,
		outgoingDir:     outDir,
		incomingDir:     inDir,
		pendingAck:      make(map[seqnum.SeqNum]*packetRecord),
		inFlight:        make(map[seqnum.SeqNum]*pendingMessage),
		fragmentRecv:    fragment.NewReceiver(),
		packetBitfield:  seqnum.NewBitfield(32),
		messageBitfield: seqnum.NewBitfield(256),
		Stats:           NewStats(),
		// Stamped at creation so TimedOut has an activity baseline even
		// before the first real datagram arrives: a temporary
		// connection that never completes its handshake must still be
		// reclaimed by the temp-connection timeout sweep.
		lastRecv: now,
	}
}

// NewServerSideConnection creates a temporary (pre-established)
// connection for a server that just accepted a CLIENT_HELLO and derived
// keys for addr. It stays in StatusConnecting until the matching
// CHALLENGE_RESP arrives (see PromoteEstablished).
func NewServerSideConnection(addr net.Addr, token uint32, salt, sendKey, recvKey []byte, now time.Time) *Connection {
	c := newConnection(addr, true, now)
	c.Token = token
	c.Salt = salt
	c.sendKey = sendKey
	c.recvKey = recvKey
	return c
}

// NewClientSideConnection creates the client-side connection once the
// client has verified SERVER_HELLO and derived its session keys. The
// caller still must call EnqueueChallengeResponse before the first tick.
func NewClientSideConnection(addr net.Addr, token uint32, salt, sendKey, recvKey []byte, connectCallback func(bool), now time.Time) *Connection {
	c := newConnection(addr, false, now)
	c.Token = token
	c.Salt = salt
	c.sendKey = sendKey
	c.recvKey = recvKey
	c.connectCallback = connectCallback
	return c
}

// PromoteEstablished transitions a server-side temporary connection to
// CONNECTED once its CHALLENGE_RESP token has been validated by the
// server context, and fires onConnect. OnDisconnect is not wired here:
// it fires exactly once, from the scheduler's per-tick established-
// connection sweep when the connection is dropped.
func (c *Connection) PromoteEstablished(onConnect func(*Connection)) {
	c.Status = StatusConnected
	flog.L().Info().Str("conn_id", c.ID.String()).Str("addr", c.Addr.String()).Msg("connection established")
	if onConnect != nil {
		onConnect(c)
	}
}

// EnqueueChallengeResponse queues the client's CHALLENGE_RESP message
// (its first AEAD-encrypted packet) and optimistically marks the
// connection CONNECTED, firing the connect callback with true. The
// client side has no further handshake acknowledgement to wait for;
// this satisfies the handshake in 1.5 round trips by trusting its own
// key derivation.
func (c *Connection) EnqueueChallengeResponse() {
	body := encodeChallengeRespBody(c.Token)
	c.Status = StatusConnected
	c.enqueue(wire.TypeChallengeResp, body, RetryBestEffort, nil)
	if c.connectCallback != nil {
		cb := c.connectCallback
		c.connectCallback = nil
		cb(true)
	}
}

// FailHandshake marks a client-side connection as failed to connect
// (signature invalid or handshake timeout), firing the connect
// callback with false exactly once.
func (c *Connection) FailHandshake() {
	c.Status = StatusDisconnected
	flog.L().Warn().Str("conn_id", c.ID.String()).Msg("handshake failed")
	if c.connectCallback != nil {
		cb := c.connectCallback
		c.connectCallback = nil
		cb(false)
	}
}

func (c *Connection) nextMsgSeq() seqnum.SeqNum {
	c.msgSeq = seqnum.Next(c.msgSeq)
	return c.msgSeq
}

func (c *Connection) nextPacketSeq() seqnum.SeqNum {
	c.packetSeq = seqnum.Next(c.packetSeq)
	return c.packetSeq
}

func (c *Connection) enqueue(typ wire.Type, payload []byte, retry RetryMode, callback func(bool)) *pendingMessage {
	m := &pendingMessage{
		seq:     c.nextMsgSeq(),
		msgType: typ,
		payload: payload,
		retry:   retry,
	}
	c.outgoing = append(c.outgoing, m)
	if callback != nil {
		m.callback = callback
	}
	return m
}

// Send enqueues an application payload for delivery. Payloads larger
// than a single packet's budget are transparently split across
// APP_FRAGMENT messages by pkg/fragment; the callback (if any) resolves
// once per Send call, when every fragment is accounted for.
func (c *Connection) Send(payload []byte, retry RetryMode, callback func(bool)) error {
	if len(payload) <= fragment.MaxFragmentSize {
		c.enqueue(wire.TypeApp, payload, retry, callback)
		return nil
	}

	fragID := c.fragIDs.Next()
	chunks, err := fragment.Split(fragID, payload)
	if err != nil {
		return err
	}
	group := &fragmentSend{total: len(chunks), userRetry: retry, callback: callback}
	for _, chunk := range chunks {
		m := c.enqueue(wire.TypeAppFragment, chunk.Encode(), retry, nil)
		m.fragGroup = group
	}
	return nil
}

// Disconnect drains the outgoing queue's future additions, sends a
// DISCONNECT message, and transitions to DISCONNECTING; the connection
// becomes DISCONNECTED once that message is acked (or its retry gives
// up), at which point callback fires.
func (c *Connection) Disconnect(callback func(bool)) {
	if c.Status == StatusDisconnecting || c.Status == StatusDisconnected {
		if callback != nil {
			callback(c.Status == StatusDisconnected)
		}
		return
	}
	c.Status = StatusDisconnecting
	c.disconnectCallback = callback
	c.enqueue(wire.TypeDisconnect, nil, RetryNone, func(ok bool) {
		c.Status = StatusDisconnected
		flog.L().Info().Str("conn_id", c.ID.String()).Msg("connection disconnected")
		if c.disconnectCallback != nil {
			cb := c.disconnectCallback
			c.disconnectCallback = nil
			cb(ok)
		}
	})
}

// IncomingMessages drains and returns every application message
// accepted since the last call, in arrival order.
func (c *Connection) IncomingMessages() []AppMessage {
	if len(c.incoming) == 0 {
		return nil
	}
	out := c.incoming
	c.incoming = nil
	return out
}

// Latency returns the current latency EMA, in seconds, taken over half
// of each measured round-trip time.
func (c *Connection) Latency() float64 { return c.latency }

// TakeChallenge reports and clears the token carried by the most
// recently received CHALLENGE_RESP, if any; the server context uses
// this to decide whether to promote a temporary connection.
func (c *Connection) TakeChallenge() (uint32, bool) {
	if !c.challengePending {
		return 0, false
	}
	c.challengePending = false
	return c.challengeToken, true
}

// TimedOut reports whether no datagram has arrived from this peer for
// longer than timeout.
func (c *Connection) TimedOut(now time.Time, timeout time.Duration) bool {
	if c.lastRecv.IsZero() {
		return false
	}
	return now.Sub(c.lastRecv) > timeout
}

