// Command xp-gateway runs the multi-client gateway emulator (spec §4.5):
// a YAML-configured device table served over TCP, with an admin HTTP
// surface for health and Prometheus metrics.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conbus/xp/internal/config"
	"github.com/conbus/xp/internal/emulator"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:10001", "TCP listen address")
	adminAddr := flag.String("admin-addr", "0.0.0.0:9090", "admin HTTP listen address (/healthz, /metrics)")
	modulesPath := flag.String("modules", "", "path to module-list YAML (required)")
	bufferCapacity := flag.Int("buffer-capacity", 1024, "per-client broadcast buffer soft cap")
	dotenv := flag.String("dotenv", "", "optional .env file to load before startup")
	flag.Parse()

	config.LoadDotEnv(*dotenv)
	log := slog.Default()

	if *modulesPath == "" {
		log.Error("xp-gateway: -modules is required")
		os.Exit(1)
	}
	modules, err := config.LoadModuleList(*modulesPath)
	if err != nil {
		log.Error("xp-gateway: loading module list", "error", err)
		os.Exit(1)
	}
	log.Info("xp-gateway: module list loaded", "devices", len(modules))

	registry := prometheus.NewRegistry()
	metrics := emulator.NewMetrics(registry)

	gw, err := emulator.NewGateway(modules, *bufferCapacity, metrics, emulator.WithLogger(log))
	if err != nil {
		log.Error("xp-gateway: building gateway", "error", err)
		os.Exit(1)
	}

	admin := emulator.NewAdminServer(gw, registry)
	go func() {
		log.Info("xp-gateway: admin server listening", "addr", *adminAddr)
		if err := http.ListenAndServe(*adminAddr, admin.Handler()); err != nil {
			log.Error("xp-gateway: admin server stopped", "error", err)
		}
	}()

	log.Info("xp-gateway: starting", "addr", *addr)
	if err := gw.ListenAndServe(*addr); err != nil {
		log.Error("xp-gateway: stopped", "error", err)
		os.Exit(1)
	}
}
