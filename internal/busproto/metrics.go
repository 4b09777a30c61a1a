package busproto

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the protocol engine's optional Prometheus instrumentation
// (SPEC_FULL.md ambient-observability supplement, mirroring
// internal/emulator.Metrics on the client side of the same connection). An
// Engine with no Metrics attached runs exactly as before -- every increment
// site is nil-checked.
type Metrics struct {
	TelegramsSent     prometheus.Counter
	TelegramsReceived prometheus.Counter
	DedupSuppressed   prometheus.Counter
}

// NewMetrics registers the engine's counters against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across repeated construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TelegramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_engine_telegrams_sent_total",
			Help: "Total telegrams written to the gateway connection.",
		}),
		TelegramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_engine_telegrams_received_total",
			Help: "Total telegrams decoded from the gateway connection.",
		}),
		DedupSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_engine_dedup_suppressed_total",
			Help: "Total outgoing frames dropped by the dedup window (spec C5).",
		}),
	}
	reg.MustRegister(m.TelegramsSent, m.TelegramsReceived, m.DedupSuppressed)
	return m
}
