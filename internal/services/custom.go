package services

import (
	"context"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
)

// CustomResponse is the Custom service's Response record.
type CustomResponse struct {
	Success           bool
	Serial            string
	ReceivedTelegrams []*codec.Telegram
	Status            Status
	Error             string
}

// CustomService sends one System telegram built from caller-supplied
// function/datapoint/data fields — for exchanges the other named services
// don't model — and records every reply from the same serial until the
// protocol times out (spec §4.4 operation list: "Custom").
type CustomService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[CustomResponse]

	mu       sync.Mutex
	serial   string
	received []*codec.Telegram

	finished *waiter[*CustomResponse]
}

func NewCustomService(engine *busproto.Engine) *CustomService {
	return &CustomService{engine: engine}
}

// Scope arms the service to send a System telegram to serial with an
// arbitrary systemFunction/datapoint/data combination.
func (s *CustomService) Scope(serial, systemFunction, datapoint, data string) {
	s.reset()
	s.mu.Lock()
	s.serial = serial
	s.received = nil
	s.mu.Unlock()
	s.finished = newWaiter[*CustomResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		_ = s.engine.SendTelegram(serial, systemFunction, datapoint, data)
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(func(ev busproto.TelegramReceivedEvent) {
		tg := ev.Telegram
		if tg.Type != codec.Reply || tg.SerialNumber != serial {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, tg)
		s.mu.Unlock()
	})
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

func (s *CustomService) Release() { s.release() }

func (s *CustomService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	serial := s.serial
	received := append([]*codec.Telegram(nil), s.received...)
	s.mu.Unlock()

	resp := &CustomResponse{
		Success:           status == StatusOK,
		Serial:            serial,
		ReceivedTelegrams: received,
		Status:            status,
		Error:             errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *CustomService) Wait(ctx context.Context) (*CustomResponse, error) {
	return s.finished.wait(ctx)
}
