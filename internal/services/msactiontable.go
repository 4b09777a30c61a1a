package services

import (
	"context"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/registry"
)

// actionTableSerializersByFamily resolves a device-family-specific
// serializer by MODULE_TYPE name. Per spec §9's decode-granularity
// decision, this repo ships one concrete, family-agnostic serializer; the
// map exists as the seam a real XP20/XP24/XP33 decoder would plug into
// (device-specific action-table decoding is an explicit Non-goal).
var actionTableSerializersByFamily = map[string]ActionTableSerializer{}

// ActionTableSerializerFor resolves the serializer registered for a
// MODULE_TYPE name, falling back to DefaultActionTableSerializer.
func ActionTableSerializerFor(moduleTypeName string) ActionTableSerializer {
	if s, ok := actionTableSerializersByFamily[moduleTypeName]; ok {
		return s
	}
	return DefaultActionTableSerializer
}

// MsActionTableService is like ActionTableDownloadService but first queries
// MODULE_TYPE to select a family-specific serializer variant (spec §4.4
// "MsActionTable service").
type MsActionTableService struct {
	lifecycle
	engine *busproto.Engine

	OnProgress busproto.Signal[string]
	OnFinish   busproto.Signal[ActionTableDownloadResponse]

	read     *DatapointReadService
	download *ActionTableDownloadService
}

func NewMsActionTableService(engine *busproto.Engine) *MsActionTableService {
	return &MsActionTableService{
		engine:   engine,
		read:     NewDatapointReadService(engine),
		download: NewActionTableDownloadService(engine),
	}
}

// Scope queries serial's MODULE_TYPE, selects the matching serializer, then
// runs the same row-by-row download as ActionTableDownloadService.
func (s *MsActionTableService) Scope(serial string) {
	s.reset()
	s.download.OnProgress.Connect(func(line string) { s.OnProgress.Emit(line) })
	s.download.OnFinish.Connect(func(resp ActionTableDownloadResponse) { s.OnFinish.Emit(resp) })

	s.read.Scope(serial, registry.DPModuleType)
	go func() {
		resp, err := s.read.Wait(context.Background())
		s.read.Release()
		family := ""
		if err == nil && resp.Success {
			family = resp.Value.Raw
		}
		s.download.Serializer = ActionTableSerializerFor(family)
		// The shared engine is already connected, so the download service's
		// own connection_made handler (installed by Scope) won't fire again;
		// kick it off explicitly here instead.
		s.download.Scope(serial)
		s.download.markRunning()
		s.download.requestRow()
	}()
	_ = s.engine.SendTelegram(serial, string(registry.FuncReadDatapoint), string(registry.DPModuleType), "")
}

// Release releases both the MODULE_TYPE read and the download, whichever
// of the two is still active — the lookup goroutine started by Scope may
// not have reached s.read.Release() yet, and lifecycle.release() is
// idempotent, so calling it again here is always safe.
func (s *MsActionTableService) Release() {
	s.read.Release()
	s.download.Release()
}

func (s *MsActionTableService) Wait(ctx context.Context) (*ActionTableDownloadResponse, error) {
	return s.download.Wait(ctx)
}
