package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	fconn "github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/pkg/fcrypto"
	"github.com/fosonet/fosonet/pkg/flog"
	"github.com/fosonet/fosonet/pkg/wire"
)

// minSleepSlice bounds the adaptive pacing loop's finest sleep grain.
const minSleepSlice = 500 * time.Microsecond

// tickFilterAlpha weights the low-pass filter over observed
// seconds-per-tick that decides whether the scheduler has fallen behind
// and should skip its end-of-tick sleep to catch up.
const tickFilterAlpha = 0.2

// recvBufferSize is the buffer the receiver goroutine reads into; large
// enough for the largest datagram fosonet ever emits.
const recvBufferSize = 2048

// Scheduler runs the fixed-tick cooperative loop described by the
// server design: one receiver goroutine pushing into an intake queue,
// one scheduler goroutine draining it, dispatching, ticking every
// connection, and batch-sending the results.
type Scheduler struct {
	ctx    *Context
	sock   *net.UDPConn
	intake *intakeQueue

	tickFilter float64
}

// NewScheduler binds a UDP socket at ctx.Config.Host:Port and returns a
// Scheduler ready to Run.
func NewScheduler(ctx *Context) (*Scheduler, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ctx.Config.Host), Port: ctx.Config.Port}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: bind %s: %w", addr, err)
	}
	return &Scheduler{
		ctx:    ctx,
		sock:   sock,
		intake: newIntakeQueue(),
	}, nil
}

// Addr reports the UDP address the scheduler is bound to, useful when
// NewScheduler was given port 0 and the caller needs the resolved port.
func (s *Scheduler) Addr() net.Addr { return s.sock.LocalAddr() }

// Run drives the receiver and scheduler goroutines until ctx is
// cancelled, then drains remaining connections with a graceful
// disconnect sweep before returning.
func (s *Scheduler) Run(parent context.Context) error {
	group, gctx := errgroup.WithContext(parent)

	group.Go(func() error {
		return s.receiverLoop(gctx)
	})
	group.Go(func() error {
		return s.schedulerLoop(gctx)
	})
	// Closing the intake wakes a scheduler blocked in DrainOrWait once
	// ctx is cancelled; gctx is also cancelled when Wait returns.
	go func() {
		<-gctx.Done()
		s.intake.Close()
	}()

	err := group.Wait()
	s.shutdown()
	return err
}

func (s *Scheduler) receiverLoop(ctx context.Context) error {
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			flog.L().Warn().Err(err).Msg("udp read error")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.intake.Push(intakeItem{addr: addr, data: data})
	}
}

func (s *Scheduler) schedulerLoop(ctx context.Context) error {
	previousTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		tickStart := time.Now()

		items, open := s.intake.DrainOrWait()
		if !open {
			return nil
		}
		for _, item := range items {
			s.handleIntakeItem(tickStart, item)
		}

		tickDelta := tickStart.Sub(previousTick).Seconds()
		previousTick = tickStart
		s.ctx.safeOnUpdate(tickDelta)

		var outbound []intakeItem
		now := time.Now()

		for addr, c := range s.ctx.established {
			if c.Status == fconn.StatusDisconnected || c.TimedOut(now, s.ctx.Config.ConnectionTimeout) {
				if dgram, ok := c.BuildPacket(now, false, s.ctx.Config.KeepAliveInterval); ok {
					outbound = append(outbound, intakeItem{addr: c.Addr, data: dgram})
				}
				s.ctx.DropEstablished(addr)
				continue
			}
			c.CheckTimeouts(now, s.ctx.Config.OutgoingTimeout)
			if dgram, ok := c.BuildPacket(now, true, s.ctx.Config.KeepAliveInterval); ok {
				outbound = append(outbound, intakeItem{addr: c.Addr, data: dgram})
			}
		}

		for addr, c := range s.ctx.temporary {
			if c.Status == fconn.StatusDisconnected || c.TimedOut(now, s.ctx.Config.TempConnectionTimeout) {
				s.ctx.DropTemporary(addr)
				continue
			}
			if dgram, ok := c.BuildPacket(now, false, s.ctx.Config.KeepAliveInterval); ok {
				outbound = append(outbound, intakeItem{addr: c.Addr, data: dgram})
			}
		}

		for _, item := range outbound {
			if _, err := s.sock.WriteTo(item.data, item.addr); err != nil {
				flog.L().Warn().Err(err).Str("addr", item.addr.String()).Msg("udp write error")
			}
		}

		s.pace(tickStart)
	}
}

// pace sleeps to the scheduler's target interval using the adaptive
// halving strategy: repeatedly sleep for half the remaining time (up to
// minSleepSlice at a time) until the remainder is below that grain. A
// low-pass filter over observed tick durations skips the sleep entirely
// once the scheduler is running behind its target.
func (s *Scheduler) pace(tickStart time.Time) {
	target := s.ctx.Config.Interval
	elapsed := time.Since(tickStart)
	observed := elapsed.Seconds()
	s.tickFilter = s.tickFilter*(1-tickFilterAlpha) + observed*tickFilterAlpha

	if s.tickFilter >= target.Seconds() {
		return
	}

	for {
		remaining := target - time.Since(tickStart)
		if remaining <= 0 {
			return
		}
		slice := remaining / 2
		if slice > minSleepSlice {
			slice = minSleepSlice
		}
		if remaining <= minSleepSlice {
			time.Sleep(remaining)
			return
		}
		time.Sleep(slice)
	}
}

// handleIntakeItem routes one raw datagram to the established, temporary,
// or new-connection path, per the blocklist/handshake design.
func (s *Scheduler) handleIntakeItem(now time.Time, item intakeItem) {
	if s.ctx.IsBlocked(item.addr) {
		return
	}

	key := item.addr.String()

	if c, ok := s.ctx.established[key]; ok {
		c.ReceiveDatagram(now, item.data)
		for _, msg := range c.IncomingMessages() {
			s.ctx.safeOnMessage(c, msg)
		}
		return
	}

	if c, ok := s.ctx.temporary[key]; ok {
		s.handleTemporaryDatagram(now, key, c, item.data)
		return
	}

	s.handleNewConnectionDatagram(now, item.addr, item.data)
}

func (s *Scheduler) handleTemporaryDatagram(now time.Time, key string, c *fconn.Connection, data []byte) {
	c.ReceiveDatagram(now, data)
	// A temporary connection's only meaningful message is its
	// CHALLENGE_RESP; application messages never arrive pre-handshake.
	c.IncomingMessages()

	token, ok := c.TakeChallenge()
	if !ok {
		return
	}
	if s.ctx.ValidateChallengeResponse(key, token) {
		s.ctx.PromoteToEstablished(key)
	}
}

func (s *Scheduler) handleNewConnectionDatagram(now time.Time, addr net.Addr, data []byte) {
	header, messages, err := wire.Decode(data, nil)
	if err != nil || header.Type != wire.TypeClientHello {
		return
	}
	clientPub, _, err := fconn.ParseClientHello(messages)
	if err != nil {
		flog.L().Debug().Err(err).Msg("rejected client hello")
		return
	}

	serverEph, err := fcrypto.GenerateEphemeral()
	if err != nil {
		flog.L().Error().Err(err).Msg("generate server ephemeral key")
		return
	}
	salt, err := fcrypto.RandomSalt()
	if err != nil {
		flog.L().Error().Err(err).Msg("generate salt")
		return
	}

	sendKey, err := fcrypto.DeriveSessionKey(serverEph, clientPub, salt, fcrypto.DirectionServerToClient)
	if err != nil {
		flog.L().Error().Err(err).Msg("derive server send key")
		return
	}
	recvKey, err := fcrypto.DeriveSessionKey(serverEph, clientPub, salt, fcrypto.DirectionClientToServer)
	if err != nil {
		flog.L().Error().Err(err).Msg("derive server recv key")
		return
	}

	token := s.ctx.GetToken()
	c := fconn.NewServerSideConnection(addr, token, salt, sendKey, recvKey, now)
	s.ctx.temporary[addr.String()] = c

	resp, err := fconn.BuildServerHello(now, s.ctx.RootKey, serverEph.PublicKey(), salt, token)
	if err != nil {
		flog.L().Error().Err(err).Msg("build server hello")
		return
	}
	if _, err := s.sock.WriteTo(resp, addr); err != nil {
		flog.L().Warn().Err(err).Msg("send server hello")
	}
}

func (s *Scheduler) shutdown() {
	s.intake.Close()
	now := time.Now()
	for addr, c := range s.ctx.established {
		c.Disconnect(nil)
		if dgram, ok := c.BuildPacket(now, false, 0); ok {
			s.sock.WriteTo(dgram, c.Addr)
		}
		s.ctx.DropEstablished(addr)
	}
	s.sock.Close()
}
