package services

import (
	"context"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// DatapointReadResponse is the Datapoint-read service's Response record.
type DatapointReadResponse struct {
	Success     bool
	Serial      string
	DatapointID registry.DatapointID
	Value       registry.Value
	Status      Status
	Error       string
}

// DatapointReadService sends one F02 read request and waits for the
// matching reply (spec §4.4 operation list: "Datapoint read/write").
type DatapointReadService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[DatapointReadResponse]

	mu     sync.Mutex
	serial string
	id     registry.DatapointID

	finished *waiter[*DatapointReadResponse]
}

func NewDatapointReadService(engine *busproto.Engine) *DatapointReadService {
	return &DatapointReadService{engine: engine}
}

func (s *DatapointReadService) Scope(serial string, id registry.DatapointID) {
	s.reset()
	s.mu.Lock()
	s.serial, s.id = serial, id
	s.mu.Unlock()
	s.finished = newWaiter[*DatapointReadResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		_ = s.engine.SendTelegram(serial, string(registry.FuncReadDatapoint), string(id), "")
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(s.onTelegramReceived)
	s.track(func() { s.engine.OnTelegramReceived.Disconnect(recvID) })

	toID := s.engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		s.finish(StatusPartialTimeout, registry.Value{}, "timed out awaiting reply")
	})
	s.track(func() { s.engine.OnTimeout.Disconnect(toID) })

	failID := s.engine.OnFailed.Connect(func(ev busproto.FailedEvent) {
		s.finish(StatusFailedConnection, registry.Value{}, ev.Message)
	})
	s.track(func() { s.engine.OnFailed.Disconnect(failID) })
}

func (s *DatapointReadService) Release() { s.release() }

func (s *DatapointReadService) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	s.mu.Lock()
	match := tg.Type == codec.Reply && tg.SerialNumber == s.serial &&
		tg.SystemFunction == string(registry.FuncReadDatapoint) &&
		registry.DatapointID(tg.DatapointID) == s.id
	s.mu.Unlock()
	if !match {
		return
	}
	val, err := registry.Parse(s.id, tg.DataValue)
	if err != nil {
		s.finish(StatusFailedWrite, registry.Value{}, err.Error())
		return
	}
	s.finish(StatusOK, val, "")
}

func (s *DatapointReadService) finish(status Status, val registry.Value, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	serial, id := s.serial, s.id
	s.mu.Unlock()

	resp := &DatapointReadResponse{
		Success:     status == StatusOK,
		Serial:      serial,
		DatapointID: id,
		Value:       val,
		Status:      status,
		Error:       errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *DatapointReadService) Wait(ctx context.Context) (*DatapointReadResponse, error) {
	return s.finished.wait(ctx)
}

// DatapointWriteResponse is the Datapoint-write / write-family service's
// Response record (spec §4.4 "Write services").
type DatapointWriteResponse struct {
	Success bool
	Serial  string
	Status  Status
	Error   string
}

// DatapointWriteService sends one F04 write-config request and waits for an
// F18 ACK from the same serial (spec §4.4 "Write services"). BlinkService
// and OutputService use the same newAckWaiter helper; BlinkAllService
// tracks its ACKs itself.
type DatapointWriteService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[DatapointWriteResponse]

	ackWaiter *ackWaiter
}

func NewDatapointWriteService(engine *busproto.Engine) *DatapointWriteService {
	return &DatapointWriteService{engine: engine}
}

func (s *DatapointWriteService) Scope(serial string, id registry.DatapointID, data string) {
	s.reset()
	s.ackWaiter = newAckWaiter(&s.lifecycle, s.engine, serial, func(status Status, errMsg string) {
		resp := DatapointWriteResponse{Success: status == StatusOK, Serial: serial, Status: status, Error: errMsg}
		s.OnFinish.Emit(resp)
	})
	s.ackWaiter.connect(func() {
		_ = s.engine.SendTelegram(serial, string(registry.FuncWriteConfig), string(id), data)
	})
}

func (s *DatapointWriteService) Release() { s.release() }

func (s *DatapointWriteService) Wait(ctx context.Context) (*DatapointWriteResponse, error) {
	resp, err := s.ackWaiter.wait(ctx)
	if err != nil {
		return nil, err
	}
	return &DatapointWriteResponse{Success: resp.Success, Serial: resp.Serial, Status: resp.Status, Error: resp.Error}, nil
}
