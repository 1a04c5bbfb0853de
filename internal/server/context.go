// Package server implements the server-side scheduler: a single-threaded
// cooperative tick loop fed by a UDP-receiver goroutine, the connection
// tables it drives, and the token/blocklist bookkeeping the handshake
// relies on.
package server

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/fosonet/fosonet/internal/conn"
	"github.com/fosonet/fosonet/internal/config"
	"github.com/fosonet/fosonet/pkg/flog"
)

// Hooks are the application-level callbacks the scheduler invokes.
// Every invocation is recover()-guarded: a panicking hook is logged and
// never brings down the scheduler.
type Hooks struct {
	OnConnect    func(c *conn.Connection)
	OnDisconnect func(c *conn.Connection)
	OnMessage    func(c *conn.Connection, msg conn.AppMessage)
	OnUpdate     func(tickDelta float64)
}

// Context holds everything the scheduler needs that is not itself
// per-connection state: the signing key, the connection tables, the
// blocklist, configuration, and the application hooks.
type Context struct {
	Config config.Config
	Hooks  Hooks

	RootKey *ecdsa.PrivateKey

	established map[string]*conn.Connection
	temporary   map[string]*conn.Connection
	tokensUsed  map[uint32]struct{}

	blocklist []netip.Prefix
}

// NewContext builds a Context from cfg and rootKey, parsing the
// blocklist's CIDR/IP entries up front so the hot path never parses
// strings per-datagram.
func NewContext(cfg config.Config, rootKey *ecdsa.PrivateKey) (*Context, error) {
	ctx := &Context{
		Config:      cfg,
		RootKey:     rootKey,
		established: make(map[string]*conn.Connection),
		temporary:   make(map[string]*conn.Connection),
		tokensUsed:  make(map[uint32]struct{}),
	}
	for _, entry := range cfg.Blocklist {
		prefix, err := parseBlocklistEntry(entry)
		if err != nil {
			return nil, err
		}
		ctx.blocklist = append(ctx.blocklist, prefix)
	}
	return ctx, nil
}

func parseBlocklistEntry(entry string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix, nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// IsBlocked reports whether addr's IP falls within any blocklist entry.
// Checked before any packet parsing, per the handshake design: a
// blocked source never causes state to be created.
func (ctx *Context) IsBlocked(addr net.Addr) bool {
	if len(ctx.blocklist) == 0 {
		return false
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return false
	}
	ip = ip.Unmap()
	for _, prefix := range ctx.blocklist {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// GetToken returns a fresh 32-bit token, retried until it is nonzero
// and collides with no token already assigned to a temporary or
// established connection.
func (ctx *Context) GetToken() uint32 {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			continue
		}
		token := binary.BigEndian.Uint32(buf[:])
		if token == 0 {
			continue
		}
		if _, used := ctx.tokensUsed[token]; used {
			continue
		}
		ctx.tokensUsed[token] = struct{}{}
		return token
	}
}

// ValidateChallengeResponse reports whether the temporary connection at
// addr holds exactly this token.
func (ctx *Context) ValidateChallengeResponse(addr string, token uint32) bool {
	c, ok := ctx.temporary[addr]
	if !ok {
		return false
	}
	return c.Token == token
}

// PromoteToEstablished moves a temporary connection to the established
// table and fires OnConnect.
func (ctx *Context) PromoteToEstablished(addr string) {
	c, ok := ctx.temporary[addr]
	if !ok {
		return
	}
	delete(ctx.temporary, addr)
	ctx.established[addr] = c
	c.PromoteEstablished(ctx.safeOnConnect)
}

// DropTemporary removes addr's temporary connection and releases its
// token, without invoking any application hook (pre-handshake drops are
// silent per the handshake failure semantics).
func (ctx *Context) DropTemporary(addr string) {
	c, ok := ctx.temporary[addr]
	if !ok {
		return
	}
	delete(ctx.tokensUsed, c.Token)
	delete(ctx.temporary, addr)
}

// DropEstablished removes addr's established connection, releases its
// token, and fires OnDisconnect.
func (ctx *Context) DropEstablished(addr string) {
	c, ok := ctx.established[addr]
	if !ok {
		return
	}
	delete(ctx.tokensUsed, c.Token)
	delete(ctx.established, addr)
	ctx.safeOnDisconnect(c)
}

func (ctx *Context) safeOnConnect(c *conn.Connection) {
	if ctx.Hooks.OnConnect == nil {
		return
	}
	defer recoverHook("OnConnect")
	ctx.Hooks.OnConnect(c)
}

func (ctx *Context) safeOnDisconnect(c *conn.Connection) {
	if ctx.Hooks.OnDisconnect == nil {
		return
	}
	defer recoverHook("OnDisconnect")
	ctx.Hooks.OnDisconnect(c)
}

func (ctx *Context) safeOnMessage(c *conn.Connection, msg conn.AppMessage) {
	if ctx.Hooks.OnMessage == nil {
		return
	}
	defer recoverHook("OnMessage")
	ctx.Hooks.OnMessage(c, msg)
}

func (ctx *Context) safeOnUpdate(tickDelta float64) {
	if ctx.Hooks.OnUpdate == nil {
		return
	}
	defer recoverHook("OnUpdate")
	ctx.Hooks.OnUpdate(tickDelta)
}

// EstablishedSnapshots returns a stats snapshot for every established
// connection, satisfying internal/metrics's ConnectionSource interface.
func (ctx *Context) EstablishedSnapshots() []conn.Snapshot {
	out := make([]conn.Snapshot, 0, len(ctx.established))
	for _, c := range ctx.established {
		out = append(out, c.Stats.Snapshot())
	}
	return out
}

// TemporaryCount returns the number of in-handshake connections.
func (ctx *Context) TemporaryCount() int {
	return len(ctx.temporary)
}

// EstablishedLatencies returns the current latency EMA for every
// established connection.
func (ctx *Context) EstablishedLatencies() []float64 {
	out := make([]float64, 0, len(ctx.established))
	for _, c := range ctx.established {
		out = append(out, c.Latency())
	}
	return out
}

// EstablishedLatencyHistograms returns the cumulative round-trip
// latency histogram for every established connection, satisfying
// internal/metrics's ConnectionSource interface.
func (ctx *Context) EstablishedLatencyHistograms() []conn.LatencyHistogram {
	out := make([]conn.LatencyHistogram, 0, len(ctx.established))
	for _, c := range ctx.established {
		out = append(out, c.Stats.LatencyHistogram())
	}
	return out
}

func recoverHook(name string) {
	if r := recover(); r != nil {
		flog.L().Error().Interface("panic", r).Str("hook", name).Msg("application hook panicked")
	}
}
