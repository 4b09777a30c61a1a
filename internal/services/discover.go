package services

import (
	"context"
	"sort"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// DiscoverResponse is the Discover service's Response record (spec §4.4
// Discover service / §3.1 Service Response).
type DiscoverResponse struct {
	Success           bool
	Devices           []string
	ReceivedTelegrams []*codec.Telegram
	Status            Status
	Error             string
}

// DiscoverService broadcasts a discover request on connect and accumulates
// every F01 reply's serial number until the protocol times out (spec §4.4
// "Discover service").
type DiscoverService struct {
	lifecycle
	engine *busproto.Engine

	OnDeviceFound busproto.Signal[string]
	OnFinish      busproto.Signal[DiscoverResponse]

	mu       sync.Mutex
	seen     map[string]bool
	devices  []string
	received []*codec.Telegram

	finished *waiter[*DiscoverResponse]
}

// NewDiscoverService constructs a service bound to an existing protocol
// engine (spec §4.4: "Dependency-injected a single protocol engine
// reference").
func NewDiscoverService(engine *busproto.Engine) *DiscoverService {
	return &DiscoverService{engine: engine}
}

// Scope resets the service's state and subscribes to exactly the protocol
// signals it needs. Call before the engine connects: the discover request is
// sent from the connection_made handler installed here, so a Scope made after
// the connection is up sends nothing.
func (s *DiscoverService) Scope() {
	s.reset()
	s.mu.Lock()
	s.seen = make(map[string]bool)
	s.devices = nil
	s.received = nil
	s.mu.Unlock()
	s.finished = newWaiter[*DiscoverResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		_ = s.engine.SendTelegram(BroadcastSerial, string(registry.FuncDiscover), "00", "")
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(s.onTelegramReceived)
	s.track(func() { s.engine.OnTelegramReceived.Disconnect(recvID) })

	toID := s.engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		s.finish(StatusOK, "")
	})
	s.track(func() { s.engine.OnTimeout.Disconnect(toID) })

	failID := s.engine.OnFailed.Connect(func(ev busproto.FailedEvent) {
		s.finish(StatusFailedConnection, ev.Message)
	})
	s.track(func() { s.engine.OnFailed.Disconnect(failID) })
}

// Release disconnects every handler registered by Scope. Idempotent.
func (s *DiscoverService) Release() {
	s.release()
}

func (s *DiscoverService) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	if tg.Type != codec.Reply || tg.SystemFunction != string(registry.FuncDiscover) {
		return
	}
	s.mu.Lock()
	s.received = append(s.received, tg)
	isNew := !s.seen[tg.SerialNumber]
	if isNew {
		s.seen[tg.SerialNumber] = true
		s.devices = append(s.devices, tg.SerialNumber)
	}
	s.mu.Unlock()

	if isNew {
		s.OnDeviceFound.Emit(tg.SerialNumber)
	}
}

func (s *DiscoverService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	devices := append([]string(nil), s.devices...)
	received := append([]*codec.Telegram(nil), s.received...)
	s.mu.Unlock()
	sort.Strings(devices)

	resp := &DiscoverResponse{
		Success:           status == StatusOK,
		Devices:           devices,
		ReceivedTelegrams: received,
		Status:            status,
		Error:             errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

// Wait blocks until on_finish fires or ctx is cancelled.
func (s *DiscoverService) Wait(ctx context.Context) (*DiscoverResponse, error) {
	return s.finished.wait(ctx)
}
