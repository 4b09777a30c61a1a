package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/registry"
)

// DeviceRecord is one exported device's observed identity (spec §4.4 Export
// service). Fields are left zero-valued when a reply was never observed
// ("Partial devices emit only the fields observed").
type DeviceRecord struct {
	Serial         string `yaml:"serial_number"`
	ModuleTypeCode string `yaml:"module_type_code,omitempty"`
	LinkNumber     *int   `yaml:"link_number,omitempty"`
	ModuleNumber   *int   `yaml:"module_number,omitempty"`
	SoftwareVer    string `yaml:"software_version,omitempty"`
	HardwareVer    string `yaml:"hardware_version,omitempty"`
	AutoReport     *bool  `yaml:"auto_report,omitempty"`
}

// ExportDocument is the root of the written YAML file.
type ExportDocument struct {
	Devices []DeviceRecord `yaml:"devices"`
}

// ExportResponse is the Export service's Response record.
type ExportResponse struct {
	Success           bool
	Devices           []DeviceRecord
	Status            Status
	Error             string
	ReceivedTelegrams []*codec.Telegram
}

// exportDevice tracks one discovered serial's in-flight identity fields.
type exportDevice struct {
	record    DeviceRecord
	remaining map[registry.DatapointID]bool
}

// ExportService layers Export on Discover plus a per-serial datapoint-read
// fan-out (spec §4.4 "Export service"). WriteFunc, if set, is invoked with
// the final device list when the scope finishes; callers (cmd/xp) supply a
// YAML-file writer so this package stays free of filesystem concerns.
type ExportService struct {
	lifecycle
	engine   *busproto.Engine
	discover *DiscoverService

	WriteFunc func(ExportDocument) error

	OnFinish busproto.Signal[ExportResponse]

	mu       sync.Mutex
	devices  map[string]*exportDevice
	received []*codec.Telegram

	finished *waiter[*ExportResponse]
}

// NewExportService constructs an Export service, reusing a fresh
// DiscoverService internally to drive the discovery phase.
func NewExportService(engine *busproto.Engine) *ExportService {
	return &ExportService{engine: engine, discover: NewDiscoverService(engine)}
}

func (s *ExportService) Scope() {
	s.reset()
	s.mu.Lock()
	s.devices = make(map[string]*exportDevice)
	s.received = nil
	s.mu.Unlock()
	s.finished = newWaiter[*ExportResponse]()

	s.discover.Scope()
	s.discover.OnDeviceFound.Connect(s.onDeviceFound)
	s.track(func() { s.discover.Release() })

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

	madeID := s.engine.OnConnectionMade.Connect(func(busproto.ConnectionMadeEvent) {
		s.markRunning()
	})
	s.track(func() { s.engine.OnConnectionMade.Disconnect(madeID) })
}

func (s *ExportService) Release() {
	s.release()
}

func (s *ExportService) onDeviceFound(serial string) {
	remaining := make(map[registry.DatapointID]bool, len(registry.IdentityDatapoints))
	for _, id := range registry.IdentityDatapoints {
		remaining[id] = true
	}
	s.mu.Lock()
	s.devices[serial] = &exportDevice{
		record:    DeviceRecord{Serial: serial},
		remaining: remaining,
	}
	s.mu.Unlock()

	for _, id := range registry.IdentityDatapoints {
		_ = s.engine.SendTelegram(serial, string(registry.FuncReadDatapoint), string(id), "")
	}
}

func (s *ExportService) onTelegramReceived(ev busproto.TelegramReceivedEvent) {
	tg := ev.Telegram
	if tg.Type != codec.Reply || tg.SystemFunction != string(registry.FuncReadDatapoint) {
		return
	}
	id := registry.DatapointID(tg.DatapointID)

	s.mu.Lock()
	dev, ok := s.devices[tg.SerialNumber]
	if !ok || !dev.remaining[id] {
		s.mu.Unlock()
		return
	}
	delete(dev.remaining, id)
	s.received = append(s.received, tg)
	applyIdentityField(&dev.record, id, tg.DataValue)
	allDone := s.allComplete()
	s.mu.Unlock()

	if allDone {
		s.finish(StatusOK, "")
	}
}

func applyIdentityField(rec *DeviceRecord, id registry.DatapointID, raw string) {
	val, err := registry.Parse(id, raw)
	switch id {
	case registry.DPModuleType:
		rec.ModuleTypeCode = raw
	case registry.DPLinkNumber:
		if err == nil {
			n := val.Parsed.(int)
			rec.LinkNumber = &n
		}
	case registry.DPModuleNumber:
		if err == nil {
			n := val.Parsed.(int)
			rec.ModuleNumber = &n
		}
	case registry.DPSoftwareVersion:
		rec.SoftwareVer = raw
	case registry.DPHardwareVersion:
		rec.HardwareVer = raw
	case registry.DPAutoReport:
		if err == nil {
			b := val.Parsed.(bool)
			rec.AutoReport = &b
		}
	}
}

// allComplete reports whether every discovered device has every identity
// field observed. Caller holds s.mu.
func (s *ExportService) allComplete() bool {
	if len(s.devices) == 0 {
		return false
	}
	for _, dev := range s.devices {
		if len(dev.remaining) > 0 {
			return false
		}
	}
	return true
}

func (s *ExportService) finish(status Status, errMsg string) {
	if !s.markDone() {
		return
	}
	s.mu.Lock()
	if (status == StatusOK || status == StatusPartialTimeout) && len(s.devices) == 0 {
		status = StatusFailedNoDevices
	}
	records := make([]DeviceRecord, 0, len(s.devices))
	for _, dev := range s.devices {
		records = append(records, dev.record)
	}
	received := append([]*codec.Telegram(nil), s.received...)
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		li, lj := records[i].LinkNumber, records[j].LinkNumber
		switch {
		case li == nil && lj == nil:
			return records[i].Serial < records[j].Serial
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return *li < *lj
		}
	})

	if status == StatusOK || status == StatusPartialTimeout {
		if s.WriteFunc != nil {
			if err := s.WriteFunc(ExportDocument{Devices: records}); err != nil {
				status = StatusFailedWrite
				errMsg = fmt.Sprintf("write export file: %v", err)
			}
		}
	}

	resp := &ExportResponse{
		Success:           status == StatusOK,
		Devices:           records,
		Status:            status,
		Error:             errMsg,
		ReceivedTelegrams: received,
	}
	s.finished.deliver(resp)
	s.OnFinish.Emit(*resp)
}

// Wait blocks until on_finish fires or ctx is cancelled.
func (s *ExportService) Wait(ctx context.Context) (*ExportResponse, error) {
	return s.finished.wait(ctx)
}
