package services

import (
	"bytes"
	"context"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
)

// RawResponse is the Raw service's Response record (spec §4.4 "Raw
// service").
type RawResponse struct {
	Success           bool
	SentTelegrams     []*codec.Telegram
	ReceivedTelegrams []*codec.Telegram
	Status            Status
	Error             string
}

// RawService parses a user-provided string for one or more '<...>' frames
// without validation, sends each, and records every reply observed before
// the protocol times out (spec §4.4 "Raw service").
type RawService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[RawResponse]

	mu       sync.Mutex
	sent     []*codec.Telegram
	received []*codec.Telegram

	finished *waiter[*RawResponse]
}

func NewRawService(engine *busproto.Engine) *RawService {
	return &RawService{engine: engine}
}

// Scope arms the service to send every frame found in input on connect.
func (s *RawService) Scope(input string) {
	s.reset()
	s.mu.Lock()
	s.sent = nil
	s.received = nil
	s.mu.Unlock()
	s.finished = newWaiter[*RawResponse]()

	frames := ExtractFrames(input)

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		for _, raw := range frames {
			inner := raw[1 : len(raw)-1]
			if tg, err := codec.Decode(inner); err == nil {
				s.mu.Lock()
				s.sent = append(s.sent, tg)
				s.mu.Unlock()
			}
			_ = s.engine.SendLiteralFrame(raw)
		}
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(func(ev busproto.TelegramReceivedEvent) {
		s.mu.Lock()
		s.received = append(s.received, ev.Telegram)
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

func (s *RawService) Release() { s.release() }

func (s *RawService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	sent := append([]*codec.Telegram(nil), s.sent...)
	received := append([]*codec.Telegram(nil), s.received...)
	s.mu.Unlock()

	resp := &RawResponse{
		Success:           status == StatusOK,
		SentTelegrams:     sent,
		ReceivedTelegrams: received,
		Status:            status,
		Error:             errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *RawService) Wait(ctx context.Context) (*RawResponse, error) {
	return s.finished.wait(ctx)
}

// ExtractFrames returns every complete '<...>' substring of s, in order,
// without validating their contents (spec §4.4 "parses... for one or more
// <...> frames (no validation)").
func ExtractFrames(s string) [][]byte {
	var frames [][]byte
	buf := []byte(s)
	for {
		start := bytes.IndexByte(buf, '<')
		if start < 0 {
			break
		}
		buf = buf[start:]
		end := bytes.IndexByte(buf, '>')
		if end < 0 {
			break
		}
		frames = append(frames, append([]byte(nil), buf[:end+1]...))
		buf = buf[end+1:]
	}
	return frames
}
