package services

import (
	"context"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/registry"
)

// BlinkService sends a single F05 (blink) or F06 (unblink) request and waits
// for the F18 ACK (spec §4.4 "Write services", §6.1 blink example).
type BlinkService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[AckResponse]

	ackWaiter *ackWaiter
}

func NewBlinkService(engine *busproto.Engine) *BlinkService {
	return &BlinkService{engine: engine}
}

// Scope arms the service to blink (on=true) or unblink (on=false) serial.
func (s *BlinkService) Scope(serial string, on bool) {
	s.reset()
	function := registry.FuncUnblink
	if on {
		function = registry.FuncBlink
	}
	s.ackWaiter = newAckWaiter(&s.lifecycle, s.engine, serial, func(status Status, errMsg string) {
		s.OnFinish.Emit(AckResponse{Success: status == StatusOK, Serial: serial, Status: status, Error: errMsg})
	})
	s.ackWaiter.connect(func() {
		_ = s.engine.SendTelegram(serial, string(function), "00", "")
	})
}

func (s *BlinkService) Release() { s.release() }

func (s *BlinkService) Wait(ctx context.Context) (*AckResponse, error) {
	return s.ackWaiter.wait(ctx)
}

// BlinkAllResult is one serial's ACK outcome within a BlinkAllService run.
type BlinkAllResult struct {
	Serial  string
	Success bool
}

// BlinkAllResponse is the BlinkAll service's Response record: every targeted
// serial's individual outcome, plus an overall success (spec §4.4 operation
// list names BlinkAll alongside Blink as a distinct bulk operation).
type BlinkAllResponse struct {
	Success bool
	Results []BlinkAllResult
	Status  Status
}

// BlinkAllService blinks every serial in Serials concurrently, waiting for
// each one's own ACK independently, and finishes once every ACK has arrived
// or the shared timeout fires.
type BlinkAllService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[BlinkAllResponse]

	mu      sync.Mutex
	pending map[string]bool
	results map[string]bool

	finished *waiter[*BlinkAllResponse]
}

func NewBlinkAllService(engine *busproto.Engine) *BlinkAllService {
	return &BlinkAllService{engine: engine}
}

func (s *BlinkAllService) Scope(serials []string, on bool) {
	s.reset()
	function := registry.FuncUnblink
	if on {
		function = registry.FuncBlink
	}
	s.pending = make(map[string]bool, len(serials))
	s.results = make(map[string]bool, len(serials))
	for _, serial := range serials {
		s.pending[serial] = true
	}
	s.finished = newWaiter[*BlinkAllResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		for _, serial := range serials {
			_ = s.engine.SendTelegram(serial, string(function), "00", "")
		}
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(func(ev busproto.TelegramReceivedEvent) {
		tg := ev.Telegram
		if tg.SystemFunction != string(registry.FuncAck) {
			return
		}
		s.mu.Lock()
		if s.pending[tg.SerialNumber] {
			delete(s.pending, tg.SerialNumber)
			s.results[tg.SerialNumber] = true
		}
		done := len(s.pending) == 0
		s.mu.Unlock()
		if done {
			s.finish(StatusOK)
		}
	})
	s.track(func() { s.engine.OnTelegramReceived.Disconnect(recvID) })

	toID := s.engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		s.finish(StatusPartialTimeout)
	})
	s.track(func() { s.engine.OnTimeout.Disconnect(toID) })

	failID := s.engine.OnFailed.Connect(func(busproto.FailedEvent) {
		s.finish(StatusFailedConnection)
	})
	s.track(func() { s.engine.OnFailed.Disconnect(failID) })
}

func (s *BlinkAllService) Release() { s.release() }

func (s *BlinkAllService) finish(status Status) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	results := make([]BlinkAllResult, 0, len(s.results)+len(s.pending))
	for serial := range s.results {
		results = append(results, BlinkAllResult{Serial: serial, Success: true})
	}
	for serial := range s.pending {
		results = append(results, BlinkAllResult{Serial: serial, Success: false})
	}
	allOK := len(s.pending) == 0
	s.mu.Unlock()

	resp := &BlinkAllResponse{Success: allOK, Results: results, Status: status}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *BlinkAllService) Wait(ctx context.Context) (*BlinkAllResponse, error) {
	return s.finished.wait(ctx)
}
