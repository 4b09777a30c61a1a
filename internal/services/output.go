package services

import (
	"context"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/registry"
)

// OutputResponse is the Output service's Response record: it reads back the
// OUTPUT_STATE datapoint after toggling it, so callers can confirm the new
// state (spec §8.2 scenario B is exactly this read, exposed as its own
// service per spec §4.4's operation list).
type OutputResponse struct {
	Success bool
	Serial  string
	State   registry.OutputState
	Status  Status
	Error   string
}

// OutputService writes a new OUTPUT_STATE value via F04, waits for the F18
// ACK, then issues a follow-up read to report the resulting state.
type OutputService struct {
	lifecycle
	engine *busproto.Engine

	OnFinish busproto.Signal[OutputResponse]

	ackWaiter *ackWaiter
	read      *DatapointReadService
}

func NewOutputService(engine *busproto.Engine) *OutputService {
	return &OutputService{engine: engine, read: NewDatapointReadService(engine)}
}

// Scope arms the service to write raw (an encoded "xxxxBBBB"-style value)
// to serial's OUTPUT_STATE datapoint.
func (s *OutputService) Scope(serial string, raw string) {
	s.reset()
	s.ackWaiter = newAckWaiter(&s.lifecycle, s.engine, serial, func(status Status, errMsg string) {
		if status != StatusOK {
			s.OnFinish.Emit(OutputResponse{Success: false, Serial: serial, Status: status, Error: errMsg})
			return
		}
		s.readBack(serial)
	})
	s.ackWaiter.connect(func() {
		_ = s.engine.SendTelegram(serial, string(registry.FuncWriteConfig), string(registry.DPOutputState), raw)
	})
}

func (s *OutputService) readBack(serial string) {
	// Scope wires up matching/parsing only; the engine is already connected
	// so its own connection_made handler won't fire again, hence the
	// explicit SendTelegram below.
	s.read.Scope(serial, registry.DPOutputState)
	go func() {
		resp, err := s.read.Wait(noTimeoutCtx())
		s.read.Release()
		if err != nil || !resp.Success {
			s.OnFinish.Emit(OutputResponse{Success: false, Serial: serial, Status: StatusFailedWrite})
			return
		}
		state, _ := resp.Value.Parsed.(registry.OutputState)
		s.OnFinish.Emit(OutputResponse{Success: true, Serial: serial, State: state, Status: StatusOK})
	}()
	_ = s.engine.SendTelegram(serial, string(registry.FuncReadDatapoint), string(registry.DPOutputState), "")
}

func (s *OutputService) Release() { s.release() }

// noTimeoutCtx returns a background context; the read-back reuses the
// shared engine's own rolling timeout rather than imposing a second one.
func noTimeoutCtx() context.Context { return context.Background() }
