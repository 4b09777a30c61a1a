package emulator

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the gateway emulator's Prometheus instrumentation (SPEC_FULL.md
// ambient-observability supplement: a production interop gateway needs
// operational visibility even though the spec's Non-goals exclude
// business-logic validation).
type Metrics struct {
	ClientsConnected prometheus.Gauge
	TelegramsIn      prometheus.Counter
	TelegramsOut     prometheus.Counter
	StormActivations prometheus.Counter
	ClientsDropped   prometheus.Counter
}

// NewMetrics registers the emulator's counters/gauges against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across repeated construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xp_gateway_clients_connected",
			Help: "Number of TCP clients currently connected to the gateway emulator.",
		}),
		TelegramsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_gateway_telegrams_in_total",
			Help: "Total inbound telegrams received from any client.",
		}),
		TelegramsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_gateway_telegrams_out_total",
			Help: "Total outbound telegram writes across all clients.",
		}),
		StormActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_gateway_storm_activations_total",
			Help: "Total number of times a module entered Storm mode.",
		}),
		ClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xp_gateway_clients_dropped_total",
			Help: "Total clients disconnected for exceeding their buffer soft cap.",
		}),
	}
	reg.MustRegister(m.ClientsConnected, m.TelegramsIn, m.TelegramsOut, m.StormActivations, m.ClientsDropped)
	return m
}
