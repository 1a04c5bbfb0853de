// Package client implements the client-side driver: the handshake
// dance against a single server, and a non-blocking Update poll that
// plays the same receive/build/send steps the server scheduler plays
// per connection, just for one peer instead of a table of them.
package client

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"time"

	fconn "github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/wire"
)

// Config holds the tunables a Client needs to drive one connection.
type Config struct {
	ServerAddr        string
	RootPublicKey     *ecdsa.PublicKey
	HandshakeTimeout  time.Duration
	HandshakeRetries  int
	KeepAliveInterval time.Duration
	OutgoingTimeout   time.Duration
	ConnectionTimeout time.Duration
}

// DefaultConfig mirrors the server's default cadence so a client talking
// to a stock server never mismatches its keep-alive/timeout pacing.
func DefaultConfig(serverAddr string, rootPub *ecdsa.PublicKey) Config {
	return Config{
		ServerAddr:        serverAddr,
		RootPublicKey:     rootPub,
		HandshakeTimeout:  time.Second,
		HandshakeRetries:  5,
		KeepAliveInterval: 6 * time.Second,
		OutgoingTimeout:   time.Second,
		ConnectionTimeout: 5 * time.Second,
	}
}

// Client owns one UDP socket and one Connection, driven single-threaded
// by repeated calls to Update — no background goroutine, matching the
// session driver's tick-driven shape on the server side.
type Client struct {
	cfg        Config
	sock       *net.UDPConn
	serverAddr *net.UDPAddr
	conn       *fconn.Connection
	recvBuf    []byte
}

// Dial resolves cfg.ServerAddr, opens a UDP socket, and runs the
// handshake: send CLIENT_HELLO, wait up to cfg.HandshakeTimeout for a
// verified SERVER_HELLO, retrying up to cfg.HandshakeRetries times on
// timeout. Returns a Client with its Connection already CONNECTED (the
// handshake trusts its own key derivation rather than waiting on a
// round trip for the CHALLENGE_RESP, per the 1.5-RTT design).
func Dial(cfg Config, connectCallback func(bool)) (*Client, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve %s: %w", cfg.ServerAddr, err)
	}
	sock, err := net.DialUDP("udp", nil, serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.ServerAddr, err)
	}

	c := &Client{
		cfg:        cfg,
		sock:       sock,
		serverAddr: serverAddr,
		recvBuf:    make([]byte, 2048),
	}

	conn, err := c.handshake(connectCallback)
	if err != nil {
		sock.Close()
		if connectCallback != nil {
			connectCallback(false)
		}
		return nil, err
	}
	c.conn = conn
	c.conn.EnqueueChallengeResponse() // fires connectCallback(true)
	if dgram, ok := c.conn.BuildPacket(time.Now(), false, c.cfg.KeepAliveInterval); ok {
		c.sock.Write(dgram)
	}
	return c, nil
}

func (c *Client) handshake(connectCallback func(bool)) (*fconn.Connection, error) {
	eph, err := fcrypto.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("client: generate ephemeral key: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.HandshakeRetries; attempt++ {
		hello, err := fconn.BuildClientHello(time.Now(), eph)
		if err != nil {
			return nil, fmt.Errorf("client: build client hello: %w", err)
		}
		if _, err := c.sock.Write(hello); err != nil {
			return nil, fmt.Errorf("client: send client hello: %w", err)
		}

		c.sock.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
		n, err := c.sock.Read(c.recvBuf)
		if err != nil {
			lastErr = err
			continue
		}
		_, messages, err := wire.Decode(c.recvBuf[:n], nil)
		if err != nil {
			lastErr = err
			continue
		}
		serverPub, salt, token, err := fconn.ParseAndVerifyServerHello(c.cfg.RootPublicKey, messages)
		if err != nil {
			// A signature failure is not retryable: the server
			// identity itself is suspect.
			return nil, fmt.Errorf("client: verify server hello: %w", err)
		}

		sendKey, err := fcrypto.DeriveSessionKey(eph, serverPub, salt, fcrypto.DirectionClientToServer)
		if err != nil {
			return nil, fmt.Errorf("client: derive send key: %w", err)
		}
		recvKey, err := fcrypto.DeriveSessionKey(eph, serverPub, salt, fcrypto.DirectionServerToClient)
		if err != nil {
			return nil, fmt.Errorf("client: derive recv key: %w", err)
		}

		c.sock.SetReadDeadline(time.Time{})
		return fconn.NewClientSideConnection(c.serverAddr, token, salt, sendKey, recvKey, connectCallback, time.Now()), nil
	}
	return nil, fmt.Errorf("client: handshake timed out after %d attempts: %w", c.cfg.HandshakeRetries+1, lastErr)
}

// Send enqueues an application payload for delivery on the next Update.
func (c *Client) Send(payload []byte, retry fconn.RetryMode, callback func(bool)) error {
	return c.conn.Send(payload, retry, callback)
}

// Disconnect enqueues a DISCONNECT message; callback fires once the
// server acknowledges it or the message's retry gives up.
func (c *Client) Disconnect(callback func(bool)) {
	c.conn.Disconnect(callback)
}

// WaitForDisconnect blocks, polling Update at a short fixed interval,
// until the connection reaches StatusDisconnected or maxSeconds
// elapses. It reports whether the connection actually disconnected
// (false on timeout). Intended for hosts that want a synchronous
// drain at shutdown rather than threading the poll through their own
// loop via Update.
func (c *Client) WaitForDisconnect(maxSeconds float64) bool {
	deadline := time.Now().Add(time.Duration(maxSeconds * float64(time.Second)))
	for {
		now := time.Now()
		if c.conn.Status == fconn.StatusDisconnected {
			return true
		}
		if !now.Before(deadline) {
			return false
		}
		if err := c.Update(now); err != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// IncomingMessages drains and returns every application message
// accepted since the last call, in arrival order.
func (c *Client) IncomingMessages() []fconn.AppMessage {
	return c.conn.IncomingMessages()
}

// Connected reports whether the underlying connection still considers
// itself CONNECTED (not yet disconnected or timed out).
func (c *Client) Connected() bool {
	return c.conn.Status == fconn.StatusConnected
}

// Latency returns the current latency EMA, in seconds, taken over half
// of each measured round-trip time.
func (c *Client) Latency() float64 {
	return c.conn.Latency()
}

// Update drains every datagram currently queued on the socket,
// resolves any expired outgoing messages, and sends one freshly built
// packet if there is anything to say. It never blocks: callers drive
// the pace (a ticker, a game loop, whatever fits the host application).
func (c *Client) Update(now time.Time) error {
	if err := c.drainIncoming(now); err != nil {
		return err
	}
	c.conn.CheckTimeouts(now, c.cfg.OutgoingTimeout)
	if dgram, ok := c.conn.BuildPacket(now, true, c.cfg.KeepAliveInterval); ok {
		if _, err := c.sock.Write(dgram); err != nil {
			return fmt.Errorf("client: send: %w", err)
		}
	}
	return nil
}

func (c *Client) drainIncoming(now time.Time) error {
	for {
		c.sock.SetReadDeadline(now)
		n, err := c.sock.Read(c.recvBuf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}
		datagram := make([]byte, n)
		copy(datagram, c.recvBuf[:n])
		c.conn.ReceiveDatagram(now, datagram)
	}
}

// TimedOut reports whether the server has been silent for longer than
// cfg.ConnectionTimeout.
func (c *Client) TimedOut(now time.Time) bool {
	return c.conn.TimedOut(now, c.cfg.ConnectionTimeout)
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.sock.Close()
}
