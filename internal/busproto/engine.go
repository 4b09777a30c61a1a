package busproto

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/conbus/xp/internal/codec"
)

// Config configures one Engine instance (spec §6.3 client config, plus the
// pacing/timeout/dedup knobs spec §4.3/§9 leave as implementation-defined).
type Config struct {
	Host string
	Port int

	// TimeoutSeconds is the rolling inactivity timeout (spec §4.3). Default 5.0.
	TimeoutSeconds float64

	// MinSendDelay/MaxSendDelay bound the uniform-random pacing delay between
	// consecutive queue drains (spec §4.3). Defaults 10ms/80ms.
	MinSendDelay time.Duration
	MaxSendDelay time.Duration

	// Dedup enables at-the-wire deduplication (spec §4.3 C5). Default true.
	Dedup bool
	// DebounceWindow is the dedup sliding window. Default 50ms.
	DebounceWindow time.Duration
}

// DefaultConfig returns a Config with every documented spec default applied,
// for the given host/port.
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:           host,
		Port:           port,
		TimeoutSeconds: 5.0,
		MinSendDelay:   10 * time.Millisecond,
		MaxSendDelay:   80 * time.Millisecond,
		Dedup:          true,
		DebounceWindow: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5.0
	}
	if c.MaxSendDelay <= 0 {
		c.MinSendDelay = 10 * time.Millisecond
		c.MaxSendDelay = 80 * time.Millisecond
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 50 * time.Millisecond
	}
	return c
}

// engineEvent is the internal tagged union fed into the dispatcher loop so
// that every signal emission happens from one goroutine, in arrival order
// (spec §5: "Signal emission is synchronous within the loop thread").
type engineEvent struct {
	kind     eventKind
	frame    []byte
	telegram *codec.Telegram
	failure  FailedEvent
}

type eventKind int

const (
	evConnectionMade eventKind = iota
	evTelegramSent
	evTelegramReceived
	evFailed
)

// Engine is the client protocol engine (spec §4.3, C3).
type Engine struct {
	cfg Config
	log *slog.Logger

	OnConnectionMade   Signal[ConnectionMadeEvent]
	OnTelegramSent     Signal[TelegramSentEvent]
	OnTelegramReceived Signal[TelegramReceivedEvent]
	OnTimeout          Signal[TimeoutEvent]
	OnFailed           Signal[FailedEvent]

	conn  net.Conn
	queue *sendQueue
	dedup *dedupWindow

	metrics *Metrics

	events chan engineEvent
	stopCh chan struct{}
	done   chan struct{}
	stop   sync.Once
}

// Option configures optional Engine behavior beyond Config (mirroring the
// emulator package's functional-option shape).
type Option func(*Engine)

// WithMetrics attaches Prometheus instrumentation. Omit it and the engine
// runs uninstrumented.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine. A nil logger uses slog.Default().
func New(cfg Config, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		log:    log,
		queue:  newSendQueue(),
		events: make(chan engineEvent, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.Dedup {
		e.dedup = newDedupWindow(cfg.DebounceWindow)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect dials the configured gateway and, on success, starts the engine's
// reader, writer, and dispatcher goroutines and emits connection_made. On
// failure it emits failed/connection_failed and returns the error; the
// engine is not retried (spec §1 Non-goals: "does not attempt automatic
// reconnection at the core level").
func (e *Engine) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		e.log.Warn("busproto: connect failed", "addr", addr, "error", err)
		e.OnFailed.Emit(FailedEvent{Kind: FailureConnectionFailed, Message: err.Error()})
		close(e.done)
		return err
	}
	e.conn = conn
	e.log.Info("busproto: connected", "addr", addr)

	if e.dedup != nil {
		go e.dedup.run(e.stopCh)
	}
	go e.readLoop()
	go e.writeLoop()
	go e.dispatchLoop()

	e.events <- engineEvent{kind: evConnectionMade}
	return nil
}

// Wait blocks until the engine has stopped (timeout, connection loss, or an
// explicit Stop), for callers that need to block the calling goroutine
// rather than drive their own select loop.
func (e *Engine) Wait() {
	<-e.done
}

// Stop cancels the rolling timeout, closes the transport, and halts every
// engine goroutine. Idempotent (spec §5 "Cancellation semantics").
func (e *Engine) Stop() {
	e.stop.Do(func() {
		close(e.stopCh)
		if e.conn != nil {
			e.conn.Close()
		}
	})
}

// SendTelegram enqueues a System telegram built from its parts.
func (e *Engine) SendTelegram(serial, function, datapoint, data string) error {
	tg, err := codec.BuildSystem(serial, function, datapoint, data)
	if err != nil {
		return err
	}
	e.enqueue(tg.Frame)
	return nil
}

// SendEventTelegram enqueues an Event telegram.
func (e *Engine) SendEventTelegram(moduleType, link, input string, kind codec.EventKind) error {
	tg, err := codec.BuildEvent(codec.Event, moduleType, link, input, kind)
	if err != nil {
		return err
	}
	e.enqueue(tg.Frame)
	return nil
}

// SendRawTelegram enqueues a pre-built payload (without '<'/'>'/checksum);
// the checksum is computed and appended here.
func (e *Engine) SendRawTelegram(payload string) error {
	tg, err := codec.Decode(append([]byte(payload), codec.XORNibble([]byte(payload))[:]...))
	if err != nil {
		return err
	}
	e.enqueue(tg.Frame)
	return nil
}

// SendLiteralFrame enqueues a complete, already-framed '<...>' byte slice
// verbatim, with no checksum recomputation or validation (spec §4.4 "Raw
// service": "parses a user-provided string for one or more <...> frames (no
// validation), sends each via send_raw_telegram").
func (e *Engine) SendLiteralFrame(frame []byte) error {
	e.enqueue(append([]byte(nil), frame...))
	return nil
}

func (e *Engine) enqueue(frame []byte) {
	if e.dedup != nil && !e.dedup.allow(frame, time.Now()) {
		e.log.Debug("busproto: dedup suppressed frame", "frame", codec.Latin1ToDisplay(frame))
		if e.metrics != nil {
			e.metrics.DedupSuppressed.Inc()
		}
		return
	}
	e.queue.push(frame)
}

// readLoop blocks on conn.Read, decodes complete frames via a Scanner, and
// posts one evTelegramReceived per frame in arrival order. It resets the
// rolling timeout itself is NOT done here -- that happens in the dispatcher,
// which is the sole owner of the timer, to avoid racing Stop/reset.
func (e *Engine) readLoop() {
	scanner := codec.NewScanner(e.log)
	buf := make([]byte, 4096)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.log.Info("busproto: connection lost", "error", err)
			e.events <- engineEvent{kind: evFailed, failure: FailedEvent{
				Kind: FailureConnectionLost, Message: err.Error(),
			}}
			return
		}
		scanner.Feed(buf[:n])
		for {
			tg, ok := scanner.Next()
			if !ok {
				break
			}
			select {
			case e.events <- engineEvent{kind: evTelegramReceived, telegram: tg}:
			case <-e.stopCh:
				return
			}
		}
	}
}

// writeLoop drains the send queue strictly in FIFO order, pacing consecutive
// writes with a uniform-random delay (spec §4.3 "Send-queue semantics").
func (e *Engine) writeLoop() {
	for {
		frame, ok := e.queue.pop()
		if !ok {
			select {
			case <-e.queue.notify:
				continue
			case <-e.stopCh:
				return
			}
		}

		if _, err := e.conn.Write(frame); err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.log.Info("busproto: write failed", "error", err)
			select {
			case e.events <- engineEvent{kind: evFailed, failure: FailedEvent{
				Kind: FailureConnectionLost, Message: err.Error(),
			}}:
			case <-e.stopCh:
			}
			return
		}

		select {
		case e.events <- engineEvent{kind: evTelegramSent, frame: frame}:
		case <-e.stopCh:
			return
		}

		delay := randomDuration(e.cfg.MinSendDelay, e.cfg.MaxSendDelay)
		select {
		case <-time.After(delay):
		case <-e.stopCh:
			return
		}
	}
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// dispatchLoop is the engine's single event-loop goroutine: it owns the
// rolling-timeout timer and emits every engine signal except the failed
// signal that Connect emits itself on a dial failure, reproducing spec §5's single-threaded-cooperative semantics on top of
// Go's goroutine/channel model.
func (e *Engine) dispatchLoop() {
	defer close(e.done)

	timeout := time.Duration(e.cfg.TimeoutSeconds * float64(time.Second))
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timeout)
	}

	for {
		select {
		case <-e.stopCh:
			return

		case <-timer.C:
			e.log.Info("busproto: rolling timeout fired")
			e.OnTimeout.Emit(TimeoutEvent{})
			e.Stop()
			return

		case ev := <-e.events:
			switch ev.kind {
			case evConnectionMade:
				resetTimer()
				e.OnConnectionMade.Emit(ConnectionMadeEvent{})
			case evTelegramSent:
				if e.metrics != nil {
					e.metrics.TelegramsSent.Inc()
				}
				e.OnTelegramSent.Emit(TelegramSentEvent{Frame: ev.frame})
			case evTelegramReceived:
				resetTimer()
				if e.metrics != nil {
					e.metrics.TelegramsReceived.Inc()
				}
				if !ev.telegram.ChecksumValid {
					e.log.Warn("busproto: accepting telegram with invalid checksum", "serial", ev.telegram.SerialNumber, "function", ev.telegram.SystemFunction)
				}
				e.OnTelegramReceived.Emit(TelegramReceivedEvent{Telegram: ev.telegram})
			case evFailed:
				e.OnFailed.Emit(ev.failure)
				e.Stop()
				return
			}
		}
	}
}
