// Package emulator implements the multi-client gateway emulator (spec §4.5,
// C6): a TCP server that answers System telegrams from a YAML-configured
// device table, broadcasting every outbound frame to every connected client
// via internal/fanout, with a storm-mode failure simulation.
package emulator

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/config"
	"github.com/conbus/xp/internal/fanout"
	"github.com/conbus/xp/internal/registry"
)

// BroadcastSerial is the discover request's target serial (spec §6.1:
// "<S0000000000F01D00{chk}>").
const BroadcastSerial = "0000000000"

type clientConn struct {
	conn net.Conn
}

// Gateway is the emulator's top-level object: the configured device table,
// the broadcast fan-out hub, and the set of currently connected clients.
type Gateway struct {
	mu      sync.Mutex
	modules map[string]*Module
	clients map[fanout.ClientID]*clientConn

	fan     *fanout.ClientBufferManager
	metrics *Metrics
	log     *slog.Logger

	writeDelayMin time.Duration
	writeDelayMax time.Duration
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithWriteDelay overrides the per-client writer's randomized inter-send
// pacing (spec §4.5 default `[1ms, 5ms]`).
func WithWriteDelay(min, max time.Duration) Option {
	return func(g *Gateway) { g.writeDelayMin, g.writeDelayMax = min, max }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// NewGateway builds a Gateway from a loaded module list (spec §6.3), with a
// per-client broadcast-buffer soft cap of bufferCapacity frames (spec §4.6,
// default 1024 — see DESIGN.md Open Question 3).
func NewGateway(modules config.ModuleList, bufferCapacity int, metrics *Metrics, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		modules:       make(map[string]*Module, len(modules)),
		clients:       make(map[fanout.ClientID]*clientConn),
		fan:           fanout.NewClientBufferManager(bufferCapacity),
		metrics:       metrics,
		log:           slog.Default(),
		writeDelayMin: time.Millisecond,
		writeDelayMax: 5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, rec := range modules {
		mod, err := NewModule(rec)
		if err != nil {
			return nil, err
		}
		g.modules[rec.SerialNumber] = mod
	}
	return g, nil
}

// ConnectedClients reports the current number of registered clients.
func (g *Gateway) ConnectedClients() int { return g.fan.Count() }

// ListenAndServe listens on addr and accepts clients until Accept fails. It
// always returns a non-nil error: the listen error, or the Accept error that
// ended the loop.
func (g *Gateway) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("emulator: listen %s: %w", addr, err)
	}
	defer ln.Close()
	g.log.Info("emulator: listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go g.handleClient(conn)
	}
}

func (g *Gateway) handleClient(conn net.Conn) {
	id, q := g.fan.Register()
	stop := make(chan struct{})

	g.mu.Lock()
	g.clients[id] = &clientConn{conn: conn}
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.ClientsConnected.Inc()
	}
	g.log.Info("emulator: client connected", "client_id", id, "remote", conn.RemoteAddr())

	defer func() {
		g.mu.Lock()
		delete(g.clients, id)
		g.mu.Unlock()
		g.fan.Unregister(id)
		close(stop)
		conn.Close()
		if g.metrics != nil {
			g.metrics.ClientsConnected.Dec()
		}
		g.log.Info("emulator: client disconnected", "client_id", id)
	}()

	go g.writerLoop(conn, q, stop)
	g.readerLoop(conn, stop)
}

func (g *Gateway) writerLoop(conn net.Conn, q *fanout.Queue, stop <-chan struct{}) {
	for {
		select {
		case frame := <-q.Frames():
			delay := randomDuration(g.writeDelayMin, g.writeDelayMax)
			select {
			case <-time.After(delay):
			case <-stop:
				return
			}
			if _, err := conn.Write(frame); err != nil {
				return
			}
			if g.metrics != nil {
				g.metrics.TelegramsOut.Inc()
			}
		case <-stop:
			return
		}
	}
}

func (g *Gateway) readerLoop(conn net.Conn, stop <-chan struct{}) {
	scanner := codec.NewScanner(g.log)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			g.log.Debug("emulator: client read error", "error", err)
			return
		}
		scanner.Feed(buf[:n])
		for {
			tg, ok := scanner.Next()
			if !ok {
				break
			}
			if g.metrics != nil {
				g.metrics.TelegramsIn.Inc()
			}
			g.handleFrame(tg)
		}
	}
}

func (g *Gateway) handleFrame(tg *codec.Telegram) {
	if tg.Type != codec.System {
		return
	}
	if tg.SerialNumber == BroadcastSerial {
		g.handleDiscoverBroadcast(tg)
		return
	}

	g.mu.Lock()
	mod, ok := g.modules[tg.SerialNumber]
	g.mu.Unlock()
	if !ok {
		g.log.Debug("emulator: request for unconfigured serial", "serial", tg.SerialNumber)
		return
	}

	wasStorm := mod.State == Storm
	reply, burst := mod.Handle(tg)
	if burst {
		if !wasStorm && g.metrics != nil {
			g.metrics.StormActivations.Inc()
		}
		g.runStormBurst(mod)
		return
	}
	if reply != nil {
		g.broadcast(reply.Frame)
	}
}

func (g *Gateway) handleDiscoverBroadcast(tg *codec.Telegram) {
	if tg.SystemFunction != string(registry.FuncDiscover) {
		return
	}
	g.mu.Lock()
	mods := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		mods = append(mods, m)
	}
	g.mu.Unlock()

	for _, m := range mods {
		reply, _ := codec.BuildReply(m.Record.SerialNumber, string(registry.FuncDiscover), "", "")
		g.broadcast(reply.Frame)
	}
}

// runStormBurst replays a module's last normal reply 200 times at 1ms
// spacing, independent of any client's own writer pacing (spec §4.5, §5
// "the storm-mode loop runs as a separate timer on the emulator side").
func (g *Gateway) runStormBurst(mod *Module) {
	last := mod.LastReply()
	if last == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < 200; i++ {
			g.broadcast(last.Frame)
			<-ticker.C
		}
	}()
}

// broadcast writes frame to every connected client's buffer, force-closing
// the connection of any client whose buffer was already at its soft cap
// (spec §4.5 "Broadcast policy").
func (g *Gateway) broadcast(frame []byte) {
	overflowed := g.fan.Broadcast(frame)
	if len(overflowed) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range overflowed {
		c, ok := g.clients[id]
		if !ok {
			continue
		}
		g.log.Warn("emulator: client exceeded buffer soft cap, disconnecting", "client_id", id)
		if g.metrics != nil {
			g.metrics.ClientsDropped.Inc()
		}
		c.conn.Close()
	}
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
