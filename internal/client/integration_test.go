package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fosonet/fosonet/internal/config"
	fconn "github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/internal/server"
	"github.com/fosonet/fosonet/pkg/fcrypto"
)

// TestDialAgainstRealScheduler drives Client.Dial and Client.Update
// against a real server.Scheduler over a loopback socket — the fake
// handshake-only peer in client_test.go never exercises the scheduler's
// tick loop, app-message delivery, or graceful disconnect.
func TestDialAgainstRealScheduler(t *testing.T) {
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

	ctx, err := server.NewContext(cfg, rootKey)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}

	serverReceived := make(chan fconn.AppMessage, 1)
	ctx.Hooks.OnMessage = func(c *fconn.Connection, msg fconn.AppMessage) {
		serverReceived <- msg
		_ = c.Send([]byte("pong"), fconn.RetryBestEffort, nil)
	}

	sched, err := server.NewScheduler(ctx)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	serverAddr := sched.Addr().(*net.UDPAddr)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(runCtx) }()
	defer func() {
		cancel()
		<-schedDone
	}()

	cfgClient := DefaultConfig(serverAddr.String(), &rootKey.PublicKey)
	cfgClient.HandshakeTimeout = 500 * time.Millisecond

	connected := make(chan bool, 1)
	cl, err := Dial(cfgClient, func(ok bool) { connected <- ok })
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cl.Close()

	select {
	case ok := <-connected:
		if !ok {
			t.Fatalf("connect callback fired false")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for connect callback")
	}

	if err := cl.Send([]byte("ping"), fconn.RetryBestEffort, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)
	var gotPong bool
	for !gotPong {
		select {
		case <-serverReceived:
		case <-ticker.C:
			if err := cl.Update(time.Now()); err != nil {
				t.Fatalf("update: %v", err)
			}
			for _, msg := range cl.IncomingMessages() {
				if string(msg.Payload) == "pong" {
					gotPong = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for pong")
		}
	}

	done := make(chan bool, 1)
	cl.Disconnect(func(ok bool) { done <- ok })
	disconnectDeadline := time.After(time.Second)
	for {
		select {
		case <-done:
			return
		case <-time.After(5 * time.Millisecond):
			cl.Update(time.Now())
		case <-disconnectDeadline:
			t.Fatalf("timed out waiting for disconnect ack")
		}
	}
}
