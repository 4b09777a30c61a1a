package services

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
)

// testHarness wires an Engine to an in-process fake gateway (a plain
// net.Conn the test drives directly) for black-box service tests. It does
// NOT connect automatically: a service must Scope() before the engine
// connects, exactly as a real caller would, so the service's own
// connection_made handler (which sends the opening telegram for most
// services) is guaranteed to be registered in time. Call connect() once
// every service under test has been scoped.
type testHarness struct {
	t        *testing.T
	engine   *busproto.Engine
	server   net.Conn
	reader   *bufio.Reader
	accepted chan net.Conn
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	cfg := busproto.DefaultConfig("127.0.0.1", port)
	cfg.MinSendDelay = time.Millisecond
	cfg.MaxSendDelay = 2 * time.Millisecond
	engine := busproto.New(cfg, nil)

	h := &testHarness{t: t, engine: engine, accepted: accepted}
	t.Cleanup(engine.Stop)
	return h
}

// connect dials the engine to the fake gateway and blocks until accepted.
// Call after every service under test has been Scope()d.
func (h *testHarness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.engine.Connect(context.Background()))
	select {
	case h.server = <-h.accepted:
	case <-time.After(2 * time.Second):
		h.t.Fatal("fake gateway never accepted connection")
	}
	h.t.Cleanup(func() { h.server.Close() })
	h.reader = bufio.NewReader(h.server)
}

// nextFrame reads the next "<...>" frame the engine wrote to the fake
// gateway, as a string (Latin-1 preserving bytes 0x80-0xFF is not needed for
// these ASCII-only test frames).
func (h *testHarness) nextFrame() string {
	h.server.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := h.reader.ReadString('>')
	require.NoError(h.t, err)
	return line
}

// reply writes a literal frame from the fake gateway back to the engine.
func (h *testHarness) reply(frame string) {
	_, err := h.server.Write([]byte(frame))
	require.NoError(h.t, err)
}

// replyPayload writes "<payload{checksum}>" back to the engine, computing
// the XOR-nibble checksum so tests can author payloads without precomputing
// checksums by hand.
func (h *testHarness) replyPayload(payload string) {
	chk := codec.XORNibble([]byte(payload))
	h.reply("<" + payload + string(chk[:]) + ">")
}
