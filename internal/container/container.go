// Package container composes the object graph once at process start: the
// protocol engine, then every service that depends on it (spec §9
// "Singleton lifecycle without global state"). No entity here is a global —
// callers hold the Container and pass it (or the fields they need) by
// explicit reference, the way cmd/api/main.go in the teacher repo builds its
// dependency chain top to bottom with no package-level state.
package container

import (
	"log/slog"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/services"
)

// DefaultScanMinID/DefaultScanMaxID bound the Scan service's datapoint sweep
// when a caller doesn't override it (services.NewScanService's own [0, 30]
// applies only when it is given an inverted range; this repo picks a generous sweep across the datapoint IDs
// the registry knows about).
const (
	DefaultScanMinID = 1
	DefaultScanMaxID = 40
)

// Container holds one protocol engine and one instance of every operation
// service, wired against that engine. Build with New; Connect/Stop forward
// to the engine.
type Container struct {
	Engine *busproto.Engine

	Discover            *services.DiscoverService
	Scan                *services.ScanService
	Raw                 *services.RawService
	Custom              *services.CustomService
	DatapointRead       *services.DatapointReadService
	DatapointWrite      *services.DatapointWriteService
	Blink               *services.BlinkService
	BlinkAll            *services.BlinkAllService
	Output              *services.OutputService
	Export              *services.ExportService
	ActionTableDownload *services.ActionTableDownloadService
	ActionTableUpload   *services.ActionTableUploadService
	MsActionTable       *services.MsActionTableService
}

// New builds the engine and every service in dependency order: the engine
// first, since every service holds a reference to it, then the services
// themselves. None of them do any I/O until Connect/Scope is called. opts
// forwards straight to busproto.New (e.g. busproto.WithMetrics).
func New(cfg busproto.Config, log *slog.Logger, opts ...busproto.Option) *Container {
	engine := busproto.New(cfg, log, opts...)

	return &Container{
		Engine: engine,

		Discover:            services.NewDiscoverService(engine),
		Scan:                services.NewScanService(engine, DefaultScanMinID, DefaultScanMaxID),
		Raw:                 services.NewRawService(engine),
		Custom:              services.NewCustomService(engine),
		DatapointRead:       services.NewDatapointReadService(engine),
		DatapointWrite:      services.NewDatapointWriteService(engine),
		Blink:               services.NewBlinkService(engine),
		BlinkAll:            services.NewBlinkAllService(engine),
		Output:              services.NewOutputService(engine),
		Export:              services.NewExportService(engine),
		ActionTableDownload: services.NewActionTableDownloadService(engine),
		ActionTableUpload:   services.NewActionTableUploadService(engine),
		MsActionTable:       services.NewMsActionTableService(engine),
	}
}
