package emulator

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/config"
	"github.com/conbus/xp/internal/registry"
	"github.com/conbus/xp/internal/services"
)

// State is a module's storm-mode state (spec §4.5 "Storm mode").
type State int

const (
	Normal State = iota
	Storm
)

func (s State) String() string {
	if s == Storm {
		return "storm"
	}
	return "normal"
}

// Module is one emulated device's in-memory state machine: canned datapoint
// values, a programmed action table, and the blink/storm flags a System
// telegram can flip (spec §4.5 "Device table").
type Module struct {
	mu sync.Mutex

	Record      config.ModuleRecord
	Datapoints  map[registry.DatapointID]string
	ActionTable []services.ActionTableEntry
	Blinking    bool
	State       State

	lastReply *codec.Telegram
}

// NewModule builds a Module from its YAML record, parsing any configured
// action-table short lines (spec §6.3) and seeding canned identity
// datapoints from the record's own fields.
func NewModule(rec config.ModuleRecord) (*Module, error) {
	m := &Module{
		Record: rec,
		Datapoints: map[registry.DatapointID]string{
			registry.DPModuleErrorCode: "00",
			registry.DPLinkNumber:      strconv.Itoa(rec.LinkNumber),
			registry.DPModuleNumber:    strconv.Itoa(rec.ModuleNumber),
			registry.DPModuleType:      rec.ModuleType,
			registry.DPSoftwareVersion: rec.SoftwareVersion,
			registry.DPHardwareVersion: rec.HardwareVersion,
			registry.DPAutoReport:      autoReportRaw(rec.AutoReportStatus),
		},
	}
	for _, line := range rec.ActionTable {
		entry, err := services.ParseShortLine(line)
		if err != nil {
			return nil, fmt.Errorf("emulator: module %s: %w", rec.SerialNumber, err)
		}
		m.ActionTable = append(m.ActionTable, entry)
	}
	return m, nil
}

func autoReportRaw(on bool) string {
	if on {
		return "01"
	}
	return "00"
}

// Handle processes one inbound System telegram addressed to this module and
// returns the reply to send, if any. burst reports that the module is in
// Storm state and the caller should instead replay the module's last normal
// reply 200 times at 1ms spacing (spec §4.5 "Storm mode"), independent of
// the requesting client's own write pacing.
func (m *Module) Handle(tg *codec.Telegram) (reply *codec.Telegram, burst bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tg.DatapointID == "99" {
		m.State = Storm
	}

	if m.State == Storm {
		if tg.SystemFunction == string(registry.FuncReadDatapoint) && tg.DatapointID == string(registry.DPModuleErrorCode) {
			m.State = Normal
			reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncReadDatapoint), string(registry.DPModuleErrorCode), "FE")
			m.lastReply = reply
			return reply, false
		}
		return nil, true
	}

	switch tg.SystemFunction {
	case string(registry.FuncDiscover):
		reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncDiscover), "", "")
	case string(registry.FuncReadDatapoint):
		reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncReadDatapoint), tg.DatapointID, m.Datapoints[registry.DatapointID(tg.DatapointID)])
	case string(registry.FuncWriteConfig):
		m.Datapoints[registry.DatapointID(tg.DatapointID)] = tg.DataValue
		reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncAck), "", "")
	case string(registry.FuncBlink):
		m.Blinking = true
		reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncAck), "", "")
	case string(registry.FuncUnblink):
		m.Blinking = false
		reply, _ = codec.BuildReply(m.Record.SerialNumber, string(registry.FuncAck), "", "")
	case string(registry.FuncReadActionTable):
		reply = m.actionTableRowReply(tg.DatapointID)
	default:
		return nil, false
	}

	m.lastReply = reply
	return reply, false
}

func (m *Module) actionTableRowReply(rowField string) *codec.Telegram {
	row, err := strconv.Atoi(rowField)
	if err != nil || row < 0 || row >= len(m.ActionTable) {
		reply, _ := codec.BuildReply(m.Record.SerialNumber, string(registry.FuncEndOfTable), "", "")
		return reply
	}
	data := services.DefaultActionTableSerializer.EncodeRow(m.ActionTable[row])
	reply, _ := codec.BuildReply(m.Record.SerialNumber, string(registry.FuncReadActionTable), rowField, data)
	return reply
}

// LastReply returns the module's most recent non-storm reply, for the
// storm-mode burst.
func (m *Module) LastReply() *codec.Telegram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReply
}
