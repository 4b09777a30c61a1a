package services

import (
	"context"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// ScanResult is one datapoint reply observed during a scan.
type ScanResult struct {
	DatapointID registry.DatapointID
	Value       registry.Value
}

// ScanResponse is the Scan service's Response record (Open Question 5 in
// DESIGN.md: spec §4.4 lists Scan among the twelve services but gives it no
// dedicated paragraph; this repo implements it as a per-serial sweep over a
// configurable datapoint-ID range).
type ScanResponse struct {
	Success           bool
	Serial            string
	Results           map[registry.DatapointID]registry.Value
	ReceivedTelegrams []*codec.Telegram
	Status            Status
	Error             string
}

// ScanService sweeps a single serial's datapoint IDs from MinID to MaxID
// inclusive, collecting every reply it receives before the range is
// exhausted or the protocol times out.
type ScanService struct {
	lifecycle
	engine *busproto.Engine

	MinID int
	MaxID int

	OnProgress busproto.Signal[ScanResult]
	OnFinish   busproto.Signal[ScanResponse]

	mu       sync.Mutex
	serial   string
	next     int
	results  map[registry.DatapointID]registry.Value
	received []*codec.Telegram

	finished *waiter[*ScanResponse]
}

// NewScanService constructs a Scan service over [minID, maxID]; defaults to
// [0, 30] when maxID < minID.
func NewScanService(engine *busproto.Engine, minID, maxID int) *ScanService {
	if maxID < minID {
		minID, maxID = 0, 30
	}
	return &ScanService{engine: engine, MinID: minID, MaxID: maxID}
}

// Scope resets state for scanning serial and subscribes to protocol signals.
func (s *ScanService) Scope(serial string) {
	s.reset()
	s.mu.Lock()
	s.serial = serial
	s.next = s.MinID
	s.results = make(map[registry.DatapointID]registry.Value)
	s.received = nil
	s.mu.Unlock()
	s.finished = newWaiter[*ScanResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		s.sendNext()
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(s.onTelegramReceived)
	s.track(func() { s.engine.OnTelegramReceived.Disconnect(recvID) })

	toID := s.engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		s.finish(StatusPartialTimeout, "")
	})
	s.track(func() { s.engine.OnTimeout.Disconnect(toID) })

	failID := s.engine.OnFailed.Connect(func(ev busproto.FailedEvent) {
		s.finish(StatusFailedConnection, ev.Message)
	})
	s.track(func() { s.engine.OnFailed.Disconnect(failID) })
}

func (s *ScanService) Release() {
	s.release()
}

func (s *ScanService) sendNext() {
	s.mu.Lock()
	if s.next > s.MaxID {
		s.mu.Unlock()
		s.finish(StatusOK, "")
		return
	}
	id := s.next
	s.next++
	serial := s.serial
	s.mu.Unlock()

	_ = s.engine.SendTelegram(serial, string(registry.FuncReadDatapoint), twoDigit(id), "")
}

func (s *ScanService) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	s.mu.Lock()
	if tg.Type != codec.Reply || tg.SerialNumber != s.serial || tg.SystemFunction != string(registry.FuncReadDatapoint) {
		s.mu.Unlock()
		return
	}
	s.received = append(s.received, tg)
	id := registry.DatapointID(tg.DatapointID)
	val, err := registry.Parse(id, tg.DataValue)
	if err == nil {
		s.results[id] = val
	}
	s.mu.Unlock()

	if err == nil {
		s.OnProgress.Emit(ScanResult{DatapointID: id, Value: val})
	}
	s.sendNext()
}

func (s *ScanService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	results := make(map[registry.DatapointID]registry.Value, len(s.results))
	for k, v := range s.results {
		results[k] = v
	}
	received := append([]*codec.Telegram(nil), s.received...)
	serial := s.serial
	s.mu.Unlock()

	resp := &ScanResponse{
		Success:           status == StatusOK,
		Serial:            serial,
		Results:           results,
		ReceivedTelegrams: received,
		Status:            status,
		Error:             errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

// Wait blocks until on_finish fires or ctx is cancelled.
func (s *ScanService) Wait(ctx context.Context) (*ScanResponse, error) {
	return s.finished.wait(ctx)
}

func twoDigit(n int) string {
	if n < 0 {
		n = 0
	}
	if n > 99 {
		n = 99
	}
	const digits = "0123456789"
	return string([]byte{digits[n/10], digits[n%10]})
}
