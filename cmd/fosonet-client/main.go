// Command fosonet-client connects to a fosonet server, sends a single
// line of text per invocation of --message, and prints whatever the
// server echoes back, polling the connection at a fixed tick until
// interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fosonet/fosonet/internal/client"
	"github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/flog"
)

const version = "0.1.0"

func main() {
	var serverAddr, rootPubPath, message string
	var tickInterval time.Duration

	root := &cobra.Command{
		Use:   "fosonet-client",
		Short: "Connect to a fosonet server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(serverAddr, rootPubPath, message, tickInterval)
		},
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:7777", "server address")
	root.Flags().StringVar(&rootPubPath, "root-pub", "", "path to the server's ECDSA root public key (PEM)")
	root.Flags().StringVar(&message, "message", "", "application payload to send once connected")
	root.Flags().DurationVar(&tickInterval, "tick", 50*time.Millisecond, "poll interval")

	if err := root.Execute(); err != nil {
		flog.Error("%v", err)
		os.Exit(1)
	}
}

func run(serverAddr, rootPubPath, message string, tickInterval time.Duration) error {
	flog.Banner("fosonet client", version)

	if rootPubPath == "" {
		return fmt.Errorf("fosonet-client: --root-pub is required")
	}
	rootPub, err := fcrypto.LoadRootPublicKey(rootPubPath)
	if err != nil {
		return err
	}

	cfg := client.DefaultConfig(serverAddr, rootPub)
	connected := make(chan bool, 1)
	cl, err := client.Dial(cfg, func(ok bool) { connected <- ok })
	if err != nil {
		return err
	}
	defer cl.Close()

	select {
	case ok := <-connected:
		if !ok {
			return fmt.Errorf("fosonet-client: handshake rejected")
		}
		flog.Success("connected to %s", serverAddr)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("fosonet-client: timed out waiting to connect")
	}

	if message != "" {
		if err := cl.Send([]byte(message), conn.RetryBestEffort, func(ok bool) {
			if ok {
				flog.Success("message delivered")
			} else {
				flog.Warn("message delivery failed")
			}
		}); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			flog.Info("disconnecting...")
			done := make(chan bool, 1)
			cl.Disconnect(func(ok bool) { done <- ok })
			deadline := time.After(2 * time.Second)
			for {
				select {
				case <-done:
					flog.Success("disconnected")
					return nil
				case <-deadline:
					return nil
				case <-ticker.C:
					cl.Update(time.Now())
				}
			}
		case <-ticker.C:
			now := time.Now()
			if err := cl.Update(now); err != nil {
				return err
			}
			for _, msg := range cl.IncomingMessages() {
				flog.Info("received: %s", string(msg.Payload))
			}
			if cl.TimedOut(now) {
				return fmt.Errorf("fosonet-client: server timed out")
			}
		}
	}
}
