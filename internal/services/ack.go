package services

import (
	"context"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// AckResponse is the common shape of every "send one telegram, wait for an
// F18 ACK from the same serial" service (spec §4.4 "Write services":
// blink, unblink, link-number, module-number, auto-report, light-level,
// datapoint-write, output).
type AckResponse struct {
	Success bool
	Serial  string
	Status  Status
	Error   string
}

// ackWaiter factors the send-then-await-ACK pattern shared by every
// write-family service, so DatapointWriteService/BlinkService/
// BlinkAllService/OutputService each only supply what telegram to send.
type ackWaiter struct {
	lifecycle *lifecycle
	engine    *busproto.Engine
	serial    string
	onFinish  func(status Status, errMsg string)
	waiter    *waiter[*AckResponse]
}

func newAckWaiter(l *lifecycle, engine *busproto.Engine, serial string, onFinish func(Status, string)) *ackWaiter {
	return &ackWaiter{lifecycle: l, engine: engine, serial: serial, onFinish: onFinish, waiter: newWaiter[*AckResponse]()}
}

// connect subscribes to the protocol signals and calls send once the
// connection is established.
func (a *ackWaiter) connect(send func()) {
	madeID := a.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		a.lifecycle.markRunning()
		send()
	})
	a.lifecycle.track(func() { a.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := a.engine.OnTelegramReceived.Connect(a.onTelegramReceived)
	a.lifecycle.track(func() { a.engine.OnTelegramReceived.Disconnect(recvID) })

	toID := a.engine.OnTimeout.Connect(func(busproto.TimeoutEvent) {
		a.finish(StatusPartialTimeout, "timed out awaiting ACK")
	})
	a.lifecycle.track(func() { a.engine.OnTimeout.Disconnect(toID) })

	failID := a.engine.OnFailed.Connect(func(ev busproto.FailedEvent) {
		a.finish(StatusFailedConnection, ev.Message)
	})
	a.lifecycle.track(func() { a.engine.OnFailed.Disconnect(failID) })
}

func (a *ackWaiter) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	if tg.Type != codec.Reply || tg.SerialNumber != a.serial || tg.SystemFunction != string(registry.FuncAck) {
		return
	}
	a.finish(StatusOK, "")
}

func (a *ackWaiter) finish(status Status, errMsg string) {
	if !a.lifecycle.markDone() {
		return
	}
	resp := &AckResponse{Success: status == StatusOK, Serial: a.serial, Status: status, Error: errMsg}
	a.waiter.deliver(resp)
	if a.onFinish != nil {
		a.onFinish(status, errMsg)
	}
}

func (a *ackWaiter) wait(ctx context.Context) (*AckResponse, error) {
	return a.waiter.wait(ctx)
}
