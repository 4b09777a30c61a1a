// Command xp is the thin CLI surface over the protocol engine and its
// services (spec §6.5, deliberately minimal per SPEC_FULL.md: argument
// parsing, help rendering, and JSON formatting beyond what the core needs
// are explicit Non-goals, so this stays on the standard library flag
// package rather than a CLI framework).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"

	"github.com/conbus/xp/internal/busproto"
	"github.com/conbus/xp/internal/codec"
	"github.com/conbus/xp/internal/config"
	"github.com/conbus/xp/internal/container"
	"github.com/conbus/xp/internal/emulator"
	"github.com/conbus/xp/internal/registry"
	"github.com/conbus/xp/internal/services"
	"github.com/conbus/xp/internal/termbridge"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	runID := uuid.New().String()
	log := slog.Default().With("run_id", runID)

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "telegram":
		return cmdTelegram(args[1:])
	case "checksum":
		return cmdChecksum(args[1:])
	case "conbus":
		return cmdConbus(args[1:], log)
	case "server":
		return cmdServer(args[1:], log)
	case "term":
		return cmdTerm(args[1:], log)
	default:
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: xp <telegram|checksum|conbus> ...
  xp telegram parse <frame>
  xp checksum calculate <payload>
  xp checksum validate <frame>
  xp conbus discover [-config file]
  xp conbus scan <serial> [-min n] [-max n] [-config file]
  xp conbus raw <frame...> [-config file]
  xp conbus datapoint read <serial> <id> [-config file]
  xp conbus datapoint write <serial> <id> <data> [-config file]
  xp conbus blink <serial> [-config file]
  xp conbus unblink <serial> [-config file]
  xp conbus output <serial> <raw> [-config file]
  xp conbus export device -modules file -out file [-config file]
  xp conbus actiontable download <serial> [-config file]
  xp conbus actiontable upload <serial> <file> [-config file]
  xp server start -modules file [-addr host:port]
  xp term protocol
  xp term start [-addr host:port] [-config file]`)
}

func cmdTelegram(args []string) int {
	if len(args) < 2 || args[0] != "parse" {
		printUsage()
		return 1
	}
	inner := trimFrame(args[1])
	tg, err := codec.Decode([]byte(inner))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return printJSON(tg)
}

func trimFrame(s string) string {
	if len(s) >= 2 && s[0] == '<' && s[len(s)-1] == '>' {
		return s[1 : len(s)-1]
	}
	return s
}

func cmdChecksum(args []string) int {
	if len(args) < 2 {
		printUsage()
		return 1
	}
	switch args[0] {
	case "calculate":
		chk := codec.XORNibble([]byte(args[1]))
		fmt.Println(string(chk[:]))
		return 0
	case "validate":
		inner := trimFrame(args[1])
		if len(inner) < 2 {
			fmt.Fprintln(os.Stderr, "xp: frame too short to carry a checksum")
			return 1
		}
		payload, chk := inner[:len(inner)-2], inner[len(inner)-2:]
		ok := codec.ValidXORNibble([]byte(payload), [2]byte{chk[0], chk[1]})
		fmt.Println(ok)
		if !ok {
			return 1
		}
		return 0
	default:
		printUsage()
		return 1
	}
}

func cmdConbus(args []string, log *slog.Logger) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}
	fs := flag.NewFlagSet("conbus", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to client config YAML")
	minID := fs.Int("min", container.DefaultScanMinID, "scan range lower bound")
	maxID := fs.Int("max", container.DefaultScanMaxID, "scan range upper bound")
	modulesPath := fs.String("modules", "", "path to module-list YAML (export)")
	outPath := fs.String("out", "", "output file path (export)")
	timeout := fs.Duration("timeout", 5*time.Second, "operation timeout")

	sub := args[0]
	rest := args[1:]
	// Flags may follow positional arguments (as the usage text shows), so
	// parsing resumes after each positional one.
	var positional []string
	for {
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	c := container.New(busproto.Config{
		Host:           cfg.Conbus.IP,
		Port:           cfg.Conbus.Port,
		TimeoutSeconds: cfg.Conbus.Timeout,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch sub {
	case "discover":
		c.Discover.Scope()
		if err := connectScoped(c, ctx); err != nil {
			c.Discover.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.Discover.Wait(ctx)
		defer c.Discover.Release()
		return finish(resp, err, func(r *services.DiscoverResponse) bool { return r.Success })

	case "scan":
		if len(positional) < 1 {
			printUsage()
			return 1
		}
		c.Scan.MinID, c.Scan.MaxID = *minID, *maxID
		c.Scan.Scope(positional[0])
		if err := connectScoped(c, ctx); err != nil {
			c.Scan.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.Scan.Wait(ctx)
		defer c.Scan.Release()
		return finish(resp, err, func(r *services.ScanResponse) bool { return r.Success })

	case "raw":
		if len(positional) < 1 {
			printUsage()
			return 1
		}
		c.Raw.Scope(positional[0])
		if err := connectScoped(c, ctx); err != nil {
			c.Raw.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.Raw.Wait(ctx)
		defer c.Raw.Release()
		return finish(resp, err, func(r *services.RawResponse) bool { return r.Success })

	case "datapoint":
		return cmdDatapoint(c, ctx, positional)

	case "blink":
		if len(positional) < 1 {
			printUsage()
			return 1
		}
		c.Blink.Scope(positional[0], true)
		if err := connectScoped(c, ctx); err != nil {
			c.Blink.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.Blink.Wait(ctx)
		defer c.Blink.Release()
		return finish(resp, err, func(r *services.AckResponse) bool { return r.Success })

	case "unblink":
		if len(positional) < 1 {
			printUsage()
			return 1
		}
		c.Blink.Scope(positional[0], false)
		if err := connectScoped(c, ctx); err != nil {
			c.Blink.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.Blink.Wait(ctx)
		defer c.Blink.Release()
		return finish(resp, err, func(r *services.AckResponse) bool { return r.Success })

	case "output":
		if len(positional) < 2 {
			printUsage()
			return 1
		}
		c.Output.Scope(positional[0], positional[1])
		if err := connectScoped(c, ctx); err != nil {
			c.Output.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := waitOutput(c.Output, ctx)
		defer c.Output.Release()
		return finish(resp, err, func(r *services.OutputResponse) bool { return r.Success })

	case "export":
		return cmdExport(c, ctx, positional, *modulesPath, *outPath)

	case "actiontable":
		return cmdActionTable(c, ctx, positional)

	default:
		printUsage()
		return 1
	}
}

// connectScoped connects the engine after the caller has already Scope()d
// the service it cares about — a service registers its connection_made
// handler during Scope, and that handler is what sends the opening
// telegram, so Connect must never run before it (see testutil_test.go).
func connectScoped(c *container.Container, ctx context.Context) error {
	return c.Engine.Connect(ctx)
}

func cmdDatapoint(c *container.Container, ctx context.Context, positional []string) int {
	if len(positional) < 1 {
		printUsage()
		return 1
	}
	switch positional[0] {
	case "read":
		if len(positional) < 3 {
			printUsage()
			return 1
		}
		c.DatapointRead.Scope(positional[1], registry.DatapointID(positional[2]))
		if err := connectScoped(c, ctx); err != nil {
			c.DatapointRead.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.DatapointRead.Wait(ctx)
		defer c.DatapointRead.Release()
		return finish(resp, err, func(r *services.DatapointReadResponse) bool { return r.Success })
	case "write":
		if len(positional) < 4 {
			printUsage()
			return 1
		}
		c.DatapointWrite.Scope(positional[1], registry.DatapointID(positional[2]), positional[3])
		if err := connectScoped(c, ctx); err != nil {
			c.DatapointWrite.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.DatapointWrite.Wait(ctx)
		defer c.DatapointWrite.Release()
		return finish(resp, err, func(r *services.DatapointWriteResponse) bool { return r.Success })
	default:
		printUsage()
		return 1
	}
}

// waitOutput blocks on OutputService's OnFinish signal since Output has no
// Wait method of its own (its response is reported only via the read-back
// it triggers internally).
func waitOutput(s *services.OutputService, ctx context.Context) (*services.OutputResponse, error) {
	ch := make(chan services.OutputResponse, 1)
	id := s.OnFinish.Connect(func(r services.OutputResponse) {
		select {
		case ch <- r:
		default:
		}
	})
	defer s.OnFinish.Disconnect(id)
	select {
	case r := <-ch:
		return &r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func cmdExport(c *container.Container, ctx context.Context, positional []string, modulesPath, outPath string) int {
	if len(positional) < 1 || positional[0] != "device" {
		printUsage()
		return 1
	}
	_ = modulesPath // export discovers devices live; modulesPath is accepted for symmetry with the emulator's YAML schema
	if outPath != "" {
		c.Export.WriteFunc = func(doc services.ExportDocument) error {
			out, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			return os.WriteFile(outPath, out, 0o644)
		}
	}
	c.Export.Scope()
	if err := connectScoped(c, ctx); err != nil {
		c.Export.Release()
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Engine.Stop()
	resp, err := c.Export.Wait(ctx)
	defer c.Export.Release()
	return finish(resp, err, func(r *services.ExportResponse) bool { return r.Success })
}

func cmdActionTable(c *container.Container, ctx context.Context, positional []string) int {
	if len(positional) < 2 {
		printUsage()
		return 1
	}
	switch positional[0] {
	case "download":
		c.ActionTableDownload.Scope(positional[1])
		if err := connectScoped(c, ctx); err != nil {
			c.ActionTableDownload.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.ActionTableDownload.Wait(ctx)
		defer c.ActionTableDownload.Release()
		return finish(resp, err, func(r *services.ActionTableDownloadResponse) bool { return r.Success })
	case "upload":
		if len(positional) < 3 {
			printUsage()
			return 1
		}
		raw, err := os.ReadFile(positional[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		var lines []string
		for _, line := range splitLines(string(raw)) {
			if line != "" {
				lines = append(lines, line)
			}
		}
		entries := make([]services.ActionTableEntry, 0, len(lines))
		for _, line := range lines {
			entry, err := services.ParseShortLine(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			entries = append(entries, entry)
		}
		c.ActionTableUpload.Scope(positional[1], services.ActionTable{Entries: entries})
		if err := connectScoped(c, ctx); err != nil {
			c.ActionTableUpload.Release()
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()
		resp, err := c.ActionTableUpload.Wait(ctx)
		defer c.ActionTableUpload.Release()
		return finish(resp, err, func(r *services.ActionTableUploadResponse) bool { return r.Success })
	default:
		printUsage()
		return 1
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// cmdServer runs the gateway emulator in-process — "xp server start" is a
// convenience alias for the dedicated xp-gateway binary, useful for local
// interop testing without a second binary on $PATH.
func cmdServer(args []string, log *slog.Logger) int {
	if len(args) < 1 || args[0] != "start" {
		printUsage()
		return 1
	}
	fs := flag.NewFlagSet("server start", flag.ContinueOnError)
	addr := fs.String("addr", "0.0.0.0:10001", "TCP listen address")
	modulesPath := fs.String("modules", "", "path to module-list YAML (required)")
	bufferCapacity := fs.Int("buffer-capacity", 1024, "per-client broadcast buffer soft cap")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *modulesPath == "" {
		fmt.Fprintln(os.Stderr, "xp server start: -modules is required")
		return 1
	}
	modules, err := config.LoadModuleList(*modulesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	metrics := emulator.NewMetrics(prometheus.NewRegistry())
	gw, err := emulator.NewGateway(modules, *bufferCapacity, metrics, emulator.WithLogger(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := gw.ListenAndServe(*addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// cmdTerm connects to a gateway and serves a termbridge WebSocket hub that
// mirrors every signal the connection emits — "the same signals the core
// already emits" (spec §1) consumed by an external monitor instead of by a
// service.
func cmdTerm(args []string, log *slog.Logger) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}
	switch args[0] {
	case "protocol":
		fmt.Println("connection_made, telegram_sent, telegram_received, timeout, failed")
		return 0
	case "start":
		fs := flag.NewFlagSet("term start", flag.ContinueOnError)
		addr := fs.String("addr", "0.0.0.0:9091", "WebSocket listen address")
		configPath := fs.String("config", "", "path to client config YAML")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		cfg, err := config.LoadClientConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		promReg := prometheus.NewRegistry()
		metrics := busproto.NewMetrics(promReg)
		c := container.New(busproto.Config{
			Host:           cfg.Conbus.IP,
			Port:           cfg.Conbus.Port,
			TimeoutSeconds: cfg.Conbus.Timeout,
		}, log, busproto.WithMetrics(metrics))

		hub := termbridge.NewHub(log)
		hub.Attach(c.Engine)
		stop := make(chan struct{})
		defer close(stop)
		go hub.Run(stop)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Engine.Connect(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer c.Engine.Stop()

		router := mux.NewRouter()
		router.HandleFunc("/ws", hub.HandleWebSocket)
		router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

		log.Info("xp term: serving monitors", "addr", *addr)
		if err := http.ListenAndServe(*addr, router); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	default:
		printUsage()
		return 1
	}
}

// finish prints resp as JSON and returns the process exit code spec §7
// mandates: 0 iff success, 1 for any declared-failure status (including a
// context error from a timed-out Wait).
func finish[T any](resp *T, err error, success func(*T) bool) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if code := printJSON(resp); code != 0 {
		return code
	}
	if !success(resp) {
		return 1
	}
	return 0
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
