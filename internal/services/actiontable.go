package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// ActionTableEntry is one decoded action-table row (spec §3.1
// "ActionTableEntry").
type ActionTableEntry struct {
	SourceModuleType string
	SourceLink       int
	SourceInput      int
	TargetOutput     int
	Action           registry.Action
	OptionalTime     *int
}

// String renders the short human form, e.g. "XP20 10 0 > 0 TURNOFF".
func (e ActionTableEntry) String() string {
	return fmt.Sprintf("%s %d %d > %d %s", e.SourceModuleType, e.SourceLink, e.SourceInput, e.TargetOutput, e.Action)
}

// ActionTable is a device's full decoded set of programmed behaviour lines.
type ActionTable struct {
	Entries []ActionTableEntry
}

// ActionTableSerializer decodes one action-table row's raw reply data value,
// or reports that the row is the table terminator (spec §9 "Action-table
// decode granularity": "given a MODULE_TYPE, pick the corresponding
// serializer").
type ActionTableSerializer interface {
	DecodeRow(raw string) (entry ActionTableEntry, terminator bool, err error)
	EncodeRow(entry ActionTableEntry) string
}

// genericActionTableSerializer decodes the family-agnostic row encoding
// "moduleType,link,input,output,action[,time]". Device-specific binary
// formats for XP20/XP24/XP33 are a spec Non-goal (§9); this is the one
// concrete serializer spec's granularity decision calls for.
type genericActionTableSerializer struct{}

func (genericActionTableSerializer) DecodeRow(raw string) (ActionTableEntry, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "END" {
		return ActionTableEntry{}, true, nil
	}
	fields := strings.Split(raw, ",")
	if len(fields) < 5 {
		return ActionTableEntry{}, false, fmt.Errorf("services: malformed action-table row %q", raw)
	}
	link, err := strconv.Atoi(fields[1])
	if err != nil {
		return ActionTableEntry{}, false, fmt.Errorf("services: bad source_link %q", fields[1])
	}
	input, err := strconv.Atoi(fields[2])
	if err != nil {
		return ActionTableEntry{}, false, fmt.Errorf("services: bad source_input %q", fields[2])
	}
	output, err := strconv.Atoi(fields[3])
	if err != nil {
		return ActionTableEntry{}, false, fmt.Errorf("services: bad target_output %q", fields[3])
	}
	action, _ := registry.ActionByName(fields[4])
	entry := ActionTableEntry{
		SourceModuleType: fields[0],
		SourceLink:       link,
		SourceInput:      input,
		TargetOutput:     output,
		Action:           action,
	}
	if len(fields) > 5 {
		if t, err := strconv.Atoi(fields[5]); err == nil {
			entry.OptionalTime = &t
		}
	}
	return entry, false, nil
}

func (genericActionTableSerializer) EncodeRow(e ActionTableEntry) string {
	row := fmt.Sprintf("%s,%d,%d,%d,%s", e.SourceModuleType, e.SourceLink, e.SourceInput, e.TargetOutput, e.Action)
	if e.OptionalTime != nil {
		row += fmt.Sprintf(",%d", *e.OptionalTime)
	}
	return row
}

// DefaultActionTableSerializer is the generic row codec used when no
// device-family-specific serializer is selected.
var DefaultActionTableSerializer ActionTableSerializer = genericActionTableSerializer{}

// ParseShortLine parses the module-list short form (spec §6.3): "{MODULE_TYPE}
// {link} {input} > {output} {ACTION} [time]" — the same shape
// ActionTableEntry.String renders, used to build a device's canned action
// table from its configured action_table lines.
func ParseShortLine(line string) (ActionTableEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 || fields[3] != ">" {
		return ActionTableEntry{}, fmt.Errorf("services: malformed action-table line %q", line)
	}
	link, err := strconv.Atoi(fields[1])
	if err != nil {
		return ActionTableEntry{}, fmt.Errorf("services: bad source_link %q", fields[1])
	}
	input, err := strconv.Atoi(fields[2])
	if err != nil {
		return ActionTableEntry{}, fmt.Errorf("services: bad source_input %q", fields[2])
	}
	output, err := strconv.Atoi(fields[4])
	if err != nil {
		return ActionTableEntry{}, fmt.Errorf("services: bad target_output %q", fields[4])
	}
	action, _ := registry.ActionByName(fields[5])
	entry := ActionTableEntry{
		SourceModuleType: fields[0],
		SourceLink:       link,
		SourceInput:      input,
		TargetOutput:     output,
		Action:           action,
	}
	if len(fields) > 6 {
		if t, err := strconv.Atoi(fields[6]); err == nil {
			entry.OptionalTime = &t
		}
	}
	return entry, nil
}

// ActionTableDownloadResponse is the ActionTable-download service's Response
// record.
type ActionTableDownloadResponse struct {
	Success    bool
	Serial     string
	Table      ActionTable
	RawRows    []string
	ShortLines []string
	Status     Status
	Error      string
}

// ActionTableDownloadService sends a scripted sequence of F11D{row} requests
// and decodes each reply via a Serializer until a terminator row or F12
// end-of-table is observed (spec §4.4 "ActionTable download service").
type ActionTableDownloadService struct {
	lifecycle
	engine     *busproto.Engine
	Serializer ActionTableSerializer

	OnProgress busproto.Signal[string]
	OnFinish   busproto.Signal[ActionTableDownloadResponse]

	mu      sync.Mutex
	serial  string
	row     int
	rawRows []string
	lines   []string
	entries []ActionTableEntry

	finished *waiter[*ActionTableDownloadResponse]
}

func NewActionTableDownloadService(engine *busproto.Engine) *ActionTableDownloadService {
	return &ActionTableDownloadService{engine: engine, Serializer: DefaultActionTableSerializer}
}

func (s *ActionTableDownloadService) Scope(serial string) {
	s.reset()
	s.mu.Lock()
	s.serial, s.row = serial, 0
	s.rawRows, s.lines, s.entries = nil, nil, nil
	s.mu.Unlock()
	s.finished = newWaiter[*ActionTableDownloadResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		s.requestRow()
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

func (s *ActionTableDownloadService) Release() { s.release() }

func (s *ActionTableDownloadService) requestRow() {
	s.mu.Lock()
	serial, row := s.serial, s.row
	s.mu.Unlock()
	_ = s.engine.SendTelegram(serial, string(registry.FuncReadActionTable), twoDigit(row), "")
}

func (s *ActionTableDownloadService) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	s.mu.Lock()
	if tg.Type != codec.Reply || tg.SerialNumber != s.serial {
		s.mu.Unlock()
		return
	}
	if tg.SystemFunction == string(registry.FuncEndOfTable) {
		s.mu.Unlock()
		s.finish(StatusOK, "")
		return
	}
	if tg.SystemFunction != string(registry.FuncReadActionTable) {
		s.mu.Unlock()
		return
	}
	s.rawRows = append(s.rawRows, tg.DataValue)
	s.row++
	s.mu.Unlock()

	entry, terminator, err := s.Serializer.DecodeRow(tg.DataValue)
	if err != nil {
		s.requestRow()
		return
	}
	if terminator {
		s.finish(StatusOK, "")
		return
	}

	line := entry.String()
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.lines = append(s.lines, line)
	s.mu.Unlock()
	s.OnProgress.Emit(line)
	s.requestRow()
}

func (s *ActionTableDownloadService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	serial := s.serial
	rawRows := append([]string(nil), s.rawRows...)
	lines := append([]string(nil), s.lines...)
	entries := append([]ActionTableEntry(nil), s.entries...)
	s.mu.Unlock()

	resp := &ActionTableDownloadResponse{
		Success:    status == StatusOK,
		Serial:     serial,
		Table:      ActionTable{Entries: entries},
		RawRows:    rawRows,
		ShortLines: lines,
		Status:     status,
		Error:      errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *ActionTableDownloadService) Wait(ctx context.Context) (*ActionTableDownloadResponse, error) {
	return s.finished.wait(ctx)
}

// ActionTableUploadResponse is the ActionTable-upload service's Response
// record.
type ActionTableUploadResponse struct {
	Success      bool
	Serial       string
	RowsAccepted int
	Status       Status
	Error        string
}

// ActionTableUploadService writes each entry of a local ActionTable back to
// a device via a sequence of F04 writes keyed by row index, awaiting the
// F18 ACK for each row before sending the next (spec §4.4 operation list:
// "ActionTable upload").
type ActionTableUploadService struct {
	lifecycle
	engine     *busproto.Engine
	Serializer ActionTableSerializer

	OnProgress busproto.Signal[int]
	OnFinish   busproto.Signal[ActionTableUploadResponse]

	mu      sync.Mutex
	serial  string
	entries []ActionTableEntry
	row     int
	waiting bool

	finished *waiter[*ActionTableUploadResponse]
}

func NewActionTableUploadService(engine *busproto.Engine) *ActionTableUploadService {
	return &ActionTableUploadService{engine: engine, Serializer: DefaultActionTableSerializer}
}

func (s *ActionTableUploadService) Scope(serial string, table ActionTable) {
	s.reset()
	s.mu.Lock()
	s.serial, s.entries, s.row, s.waiting = serial, table.Entries, 0, false
	s.mu.Unlock()
	s.finished = newWaiter[*ActionTableUploadResponse]()

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
		s.sendNextRow()
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })

	recvID := s.engine.OnTelegramReceived.Connect(func(ev busproto.TelegramReceivedEvent) {
		tg := ev.Telegram
		if tg.Type != codec.Reply || tg.SerialNumber != serial || tg.SystemFunction != string(registry.FuncAck) {
			return
		}
		s.mu.Lock()
		if !s.waiting {
			s.mu.Unlock()
			return
		}
		s.waiting = false
		s.row++
		done := s.row >= len(s.entries)
		row := s.row
		s.mu.Unlock()
		if done {
			s.finish(StatusOK, "")
			return
		}
		s.OnProgress.Emit(row)
		s.sendNextRow()
	})
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

func (s *ActionTableUploadService) Release() { s.release() }

func (s *ActionTableUploadService) sendNextRow() {
	s.mu.Lock()
	if s.row >= len(s.entries) {
		s.mu.Unlock()
		s.finish(StatusOK, "")
		return
	}
	entry := s.entries[s.row]
	row := s.row
	serial := s.serial
	s.waiting = true
	s.mu.Unlock()

	_ = s.engine.SendTelegram(serial, string(registry.FuncWriteConfig), twoDigit(row), s.Serializer.EncodeRow(entry))
}

func (s *ActionTableUploadService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	serial := s.serial
	accepted := s.row
	s.mu.Unlock()

	resp := &ActionTableUploadResponse{
		Success:      status == StatusOK,
		Serial:       serial,
		RowsAccepted: accepted,
		Status:       status,
		Error:        errMsg,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

func (s *ActionTableUploadService) Wait(ctx context.Context) (*ActionTableUploadResponse, error) {
	return s.finished.wait(ctx)
}
