package emulator

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer exposes operational visibility for a running Gateway:
// /healthz (liveness + connected-client count) and /metrics (Prometheus
// exposition), matching the teacher's admin-HTTP-alongside-the-real-server
// shape (cmd/socket-gateway/main.go) without carrying its business routes.
type AdminServer struct {
	gateway  *Gateway
	registry *prometheus.Registry
}

// NewAdminServer builds the admin mux for gateway, scraping registry for
// /metrics.
func NewAdminServer(gateway *Gateway, registry *prometheus.Registry) *AdminServer {
	return &AdminServer{gateway: gateway, registry: registry}
}

// Handler returns the gorilla/mux router to serve.
func (a *AdminServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

type healthzResponse struct {
	Status           string `json:"status"`
	ConnectedClients int    `json:"connected_clients"`
}

func (a *AdminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthzResponse{
		Status:           "ok",
		ConnectedClients: a.gateway.ConnectedClients(),
	})
}
