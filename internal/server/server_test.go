package server

import (
	"context"
	"net"
	"testing"
	"time"

	fconn "github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/internal/config"
	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/wire"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	rootKey, err := fcrypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	cfg := config.Default()
	ctx, err := NewContext(cfg, rootKey)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return ctx
}

func TestGetTokenUniqueAndNonzero(t *testing.T) {
	ctx := newTestContext(t)
	seen := make(map[uint32]struct{})
	for i := 0; i < 256; i++ {
		token := ctx.GetToken()
		if token == 0 {
			t.Fatalf("token must never be zero")
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("token %d issued twice", token)
		}
		seen[token] = struct{}{}
	}
}

func TestIsBlockedMatchesCIDRAndExactAddr(t *testing.T) {
	rootKey, err := fcrypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	cfg := config.Default()
	cfg.Blocklist = []string{"10.0.0.0/8", "203.0.113.42"}
	ctx, err := NewContext(cfg, rootKey)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}

	cases := []struct {
		addr    string
		blocked bool
	}{
		{"10.1.2.3:4000", true},
		{"203.0.113.42:4000", true},
		{"203.0.113.43:4000", false},
		{"198.51.100.1:4000", false},
	}
	for _, c := range cases {
		addr, err := net.ResolveUDPAddr("udp", c.addr)
		if err != nil {
			t.Fatalf("resolve %s: %v", c.addr, err)
		}
		if got := ctx.IsBlocked(addr); got != c.blocked {
			t.Errorf("IsBlocked(%s) = %v, want %v", c.addr, got, c.blocked)
		}
	}
}

func TestHookPanicIsRecovered(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Hooks.OnConnect = func(c *fconn.Connection) {
		panic("boom")
	}
	ctx.safeOnConnect(nil) // must not propagate the panic
}

func TestTokenReleasedOnDrop(t *testing.T) {
	ctx := newTestContext(t)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	token := ctx.GetToken()
	c := fconn.NewServerSideConnection(addr, token, nil, nil, nil, time.Now())
	ctx.temporary[addr.String()] = c

	ctx.DropTemporary(addr.String())

	if _, used := ctx.tokensUsed[token]; used {
		t.Fatalf("token %d should have been released", token)
	}
	if _, ok := ctx.temporary[addr.String()]; ok {
		t.Fatalf("temporary connection should have been removed")
	}
}

func TestTemporaryConnectionTimesOutWithoutAnyDatagram(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5001}
	created := time.Now()
	c := fconn.NewServerSideConnection(addr, 1, nil, nil, nil, created)

	if c.TimedOut(created, 2*time.Second) {
		t.Fatalf("freshly created connection should not be timed out yet")
	}
	if !c.TimedOut(created.Add(3*time.Second), 2*time.Second) {
		t.Fatalf("a temporary connection that never receives a datagram must still time out")
	}
}

// TestEndToEndHandshakeAndMessage drives a real scheduler over a loopback
// UDP socket through the full handshake and one application message,
// exercising the blocklist-free new-connection path, CHALLENGE_RESP
// promotion, and message dispatch to the OnMessage hook.
func TestEndToEndHandshakeAndMessage(t *testing.T) {
	rootKey, err := fcrypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Interval = 5 * time.Millisecond
	cfg.TempConnectionTimeout = time.Second
	cfg.ConnectionTimeout = 5 * time.Second

	ctx, err := NewContext(cfg, rootKey)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	connected := make(chan struct{}, 1)
	received := make(chan fconn.AppMessage, 1)
	ctx.Hooks.OnConnect = func(c *fconn.Connection) { connected <- struct{}{} }
	ctx.Hooks.OnMessage = func(c *fconn.Connection, msg fconn.AppMessage) { received <- msg }

	sched, err := NewScheduler(ctx)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	serverAddr := sched.sock.LocalAddr().(*net.UDPAddr)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	clientSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	defer clientSock.Close()

	clientEph, err := fcrypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("client ephemeral: %v", err)
	}
	hello, err := fconn.BuildClientHello(time.Now(), clientEph)
	if err != nil {
		t.Fatalf("build client hello: %v", err)
	}
	if _, err := clientSock.WriteTo(hello, serverAddr); err != nil {
		t.Fatalf("send client hello: %v", err)
	}

	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := clientSock.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read server hello: %v", err)
	}
	_, messages, err := wire.Decode(buf[:n], nil)
	if err != nil {
		t.Fatalf("decode server hello: %v", err)
	}
	serverPub, salt, token, err := fconn.ParseAndVerifyServerHello(&rootKey.PublicKey, messages)
	if err != nil {
		t.Fatalf("verify server hello: %v", err)
	}

	clientSend, err := fcrypto.DeriveSessionKey(clientEph, serverPub, salt, fcrypto.DirectionClientToServer)
	if err != nil {
		t.Fatalf("derive client send key: %v", err)
	}
	clientRecv, err := fcrypto.DeriveSessionKey(clientEph, serverPub, salt, fcrypto.DirectionServerToClient)
	if err != nil {
		t.Fatalf("derive client recv key: %v", err)
	}

	client := fconn.NewClientSideConnection(clientSock.LocalAddr(), token, salt, clientSend, clientRecv, nil, time.Now())
	client.EnqueueChallengeResponse()
	dgram, ok := client.BuildPacket(time.Now(), false, time.Second)
	if !ok {
		t.Fatalf("expected a challenge-response datagram")
	}
	if _, err := clientSock.WriteTo(dgram, serverAddr); err != nil {
		t.Fatalf("send challenge response: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnConnect")
	}

	if err := client.Send([]byte("ping"), fconn.RetryBestEffort, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	dgram, ok = client.BuildPacket(time.Now(), false, time.Second)
	if !ok {
		t.Fatalf("expected an app-message datagram")
	}
	if _, err := clientSock.WriteTo(dgram, serverAddr); err != nil {
		t.Fatalf("send app message: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Payload) != "ping" {
			t.Fatalf("got payload %q, want %q", msg.Payload, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnMessage")
	}
}

// TestPeerDisconnectFiresOnDisconnectOnce guards against OnDisconnect
// firing twice for one peer-initiated graceful disconnect: once from
// the DISCONNECT message's receive path and again from the scheduler's
// established-connection sweep noticing the StatusDisconnected peer.
func TestPeerDisconnectFiresOnDisconnectOnce(t *testing.T) {
	rootKey, err := fcrypto.GenerateRootKey()
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Interval = 5 * time.Millisecond
	cfg.TempConnectionTimeout = time.Second
	cfg.ConnectionTimeout = 5 * time.Second

	ctx, err := NewContext(cfg, rootKey)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	connected := make(chan struct{}, 1)
	disconnectCount := make(chan int, 16)
	count := 0
	ctx.Hooks.OnConnect = func(c *fconn.Connection) { connected <- struct{}{} }
	ctx.Hooks.OnDisconnect = func(c *fconn.Connection) {
		count++
		disconnectCount <- count
	}

	sched, err := NewScheduler(ctx)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	serverAddr := sched.Addr().(*net.UDPAddr)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	clientSock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	defer clientSock.Close()

	clientEph, err := fcrypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("client ephemeral: %v", err)
	}
	hello, err := fconn.BuildClientHello(time.Now(), clientEph)
	if err != nil {
		t.Fatalf("build client hello: %v", err)
	}
	if _, err := clientSock.WriteTo(hello, serverAddr); err != nil {
		t.Fatalf("send client hello: %v", err)
	}

	clientSock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := clientSock.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read server hello: %v", err)
	}
	_, messages, err := wire.Decode(buf[:n], nil)
	if err != nil {
		t.Fatalf("decode server hello: %v", err)
	}
	serverPub, salt, token, err := fconn.ParseAndVerifyServerHello(&rootKey.PublicKey, messages)
	if err != nil {
		t.Fatalf("verify server hello: %v", err)
	}

	clientSend, err := fcrypto.DeriveSessionKey(clientEph, serverPub, salt, fcrypto.DirectionClientToServer)
	if err != nil {
		t.Fatalf("derive client send key: %v", err)
	}
	clientRecv, err := fcrypto.DeriveSessionKey(clientEph, serverPub, salt, fcrypto.DirectionServerToClient)
	if err != nil {
		t.Fatalf("derive client recv key: %v", err)
	}

	client := fconn.NewClientSideConnection(clientSock.LocalAddr(), token, salt, clientSend, clientRecv, nil, time.Now())
	client.EnqueueChallengeResponse()
	dgram, ok := client.BuildPacket(time.Now(), false, time.Second)
	if !ok {
		t.Fatalf("expected a challenge-response datagram")
	}
	if _, err := clientSock.WriteTo(dgram, serverAddr); err != nil {
		t.Fatalf("send challenge response: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnConnect")
	}

	client.Disconnect(nil)
	dgram, ok = client.BuildPacket(time.Now(), false, time.Second)
	if !ok {
		t.Fatalf("expected a disconnect datagram")
	}
	if _, err := clientSock.WriteTo(dgram, serverAddr); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}

	select {
	case n := <-disconnectCount:
		if n != 1 {
			t.Fatalf("OnDisconnect fired out of order, got call #%d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnDisconnect")
	}

	select {
	case n := <-disconnectCount:
		t.Fatalf("OnDisconnect fired a second time (call #%d)", n)
	case <-time.After(200 * time.Millisecond):
	}
}
