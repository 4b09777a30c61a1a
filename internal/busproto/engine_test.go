package busproto

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conbus/xp/internal/codec"
)

// listenLocal starts a one-shot TCP listener on 127.0.0.1 and returns its
// port plus a channel delivering the first accepted connection.
func listenLocal(t *testing.T) (port int, conns <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(ch)
				return
			}
			ch <- c
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, ch
}

func TestEngineConnectEmitsConnectionMade(t *testing.T) {
	port, conns := listenLocal(t)

	e := New(DefaultConfig("127.0.0.1", port), nil)
	t.Cleanup(e.Stop)

	made := make(chan struct{}, 1)
	e.OnConnectionMade.Connect(func(ConnectionMadeEvent) { made <- struct{}{} })

	require.NoError(t, e.Connect(context.Background()))
	<-conns

	select {
	case <-made:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection_made")
	}
}

func TestEngineConnectFailureEmitsFailed(t *testing.T) {
	// Bind an ephemeral port and close it again, so nothing listens there and
	// the dial fails fast.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listening now

	e := New(DefaultConfig("127.0.0.1", port), nil)
	t.Cleanup(e.Stop)

	failed := make(chan FailedEvent, 1)
	e.OnFailed.Connect(func(ev FailedEvent) { failed <- ev })

	err = e.Connect(context.Background())
	require.Error(t, err)

	select {
	case ev := <-failed:
		assert.Equal(t, FailureConnectionFailed, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failed event")
	}
}

func TestEngineSendTelegramWritesFrame(t *testing.T) {
	port, conns := listenLocal(t)

	cfg := DefaultConfig("127.0.0.1", port)
	cfg.MinSendDelay = time.Millisecond
	cfg.MaxSendDelay = 2 * time.Millisecond
	e := New(cfg, nil)
	t.Cleanup(e.Stop)

	sent := make(chan TelegramSentEvent, 1)
	e.OnTelegramSent.Connect(func(ev TelegramSentEvent) { sent <- ev })

	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	require.NoError(t, e.SendTelegram("0020044966", "02", "12", ""))

	reader := bufio.NewReader(server)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('>')
	require.NoError(t, err)
	assert.Equal(t, "<S0020044966F02D12FL>", line)

	select {
	case ev := <-sent:
		assert.Equal(t, "<S0020044966F02D12FL>", codec.Latin1ToDisplay(ev.Frame))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telegram_sent")
	}
}

func TestEngineReceivesAndDecodesTelegram(t *testing.T) {
	port, conns := listenLocal(t)

	e := New(DefaultConfig("127.0.0.1", port), nil)
	t.Cleanup(e.Stop)

	received := make(chan *codec.Telegram, 1)
	e.OnTelegramReceived.Connect(func(ev TelegramReceivedEvent) { received <- ev.Telegram })

	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	_, err := server.Write([]byte("<R0020044966F02D12AJ>"))
	require.NoError(t, err)

	select {
	case tg := <-received:
		assert.Equal(t, codec.Reply, tg.Type)
		assert.Equal(t, "0020044966", tg.SerialNumber)
		assert.Equal(t, "12", tg.DatapointID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telegram_received")
	}
}

func TestEngineTimeoutFiresWhenIdle(t *testing.T) {
	port, conns := listenLocal(t)

	cfg := DefaultConfig("127.0.0.1", port)
	cfg.TimeoutSeconds = 0.05
	e := New(cfg, nil)
	t.Cleanup(e.Stop)

	timedOut := make(chan struct{}, 1)
	e.OnTimeout.Connect(func(TimeoutEvent) { timedOut <- struct{}{} })

	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rolling timeout to fire")
	}
	e.Wait()
}

func TestEngineStopIsIdempotent(t *testing.T) {
	port, conns := listenLocal(t)

	e := New(DefaultConfig("127.0.0.1", port), nil)
	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	assert.NotPanics(t, func() {
		e.Stop()
		e.Stop()
	})
}

func TestEngineDedupSuppressesRepeatedFrame(t *testing.T) {
	port, conns := listenLocal(t)

	cfg := DefaultConfig("127.0.0.1", port)
	cfg.Dedup = true
	cfg.DebounceWindow = time.Second
	cfg.MinSendDelay = time.Millisecond
	cfg.MaxSendDelay = 2 * time.Millisecond
	e := New(cfg, nil)
	t.Cleanup(e.Stop)

	var sentCount int
	done := make(chan struct{})
	e.OnTelegramSent.Connect(func(TelegramSentEvent) {
		sentCount++
		if sentCount == 1 {
			go func() {
				time.Sleep(50 * time.Millisecond)
				close(done)
			}()
		}
	})

	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	require.NoError(t, e.SendTelegram("0020044966", "02", "12", ""))
	require.NoError(t, e.SendTelegram("0020044966", "02", "12", ""))

	<-done
	assert.Equal(t, 1, sentCount)
}

func TestEngineMetricsCountSentReceivedAndDedupSuppressed(t *testing.T) {
	port, conns := listenLocal(t)

	cfg := DefaultConfig("127.0.0.1", port)
	cfg.DebounceWindow = time.Second
	cfg.MinSendDelay = time.Millisecond
	cfg.MaxSendDelay = 2 * time.Millisecond

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := New(cfg, nil, WithMetrics(m))
	t.Cleanup(e.Stop)

	sent := make(chan struct{}, 2)
	e.OnTelegramSent.Connect(func(TelegramSentEvent) { sent <- struct{}{} })
	received := make(chan struct{}, 1)
	e.OnTelegramReceived.Connect(func(TelegramReceivedEvent) { received <- struct{}{} })

	require.NoError(t, e.Connect(context.Background()))
	server := <-conns
	t.Cleanup(func() { server.Close() })

	require.NoError(t, e.SendTelegram("0020044966", "02", "12", ""))
	require.NoError(t, e.SendTelegram("0020044966", "02", "12", ""))

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telegram_sent")
	}

	_, err := server.Write([]byte("<R0020044966F02D12AJ>"))
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telegram_received")
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TelegramsSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TelegramsReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DedupSuppressed))
}
