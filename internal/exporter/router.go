package exporter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmslite/engine/internal/middleware"
	"github.com/nmslite/engine/internal/telemetry"
)

// NewRouter creates the exporter router: Prometheus metrics from gatherer,
// a liveness probe and the read-only monitor API.
func NewRouter(hosts Hosts, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "exporter_api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	h := &handler{hosts: hosts}

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/hosts", h.listHosts)
		r.Get("/hosts/{hostname}", h.getHost)
		r.Get("/hosts/{hostname}/monitors", h.listMonitors)
	})

	return r
}

type handler struct {
	hosts Hosts
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Hosts     int       `json:"hosts"`
}

// health handles GET /health
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now(), Hosts: len(h.hosts)})
}

// listHosts handles GET /api/v1/hosts
func (h *handler) listHosts(w http.ResponseWriter, r *http.Request) {
	out := make([]HostSummary, 0, len(h.hosts))
	for _, m := range h.hosts {
		out = append(out, Summarize(m))
	}
	sendJSON(w, http.StatusOK, out)
}

// getHost handles GET /api/v1/hosts/{hostname}
func (h *handler) getHost(w http.ResponseWriter, r *http.Request) {
	m, ok := h.host(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, Summarize(m))
}

// listMonitors handles GET /api/v1/hosts/{hostname}/monitors?type=
func (h *handler) listMonitors(w http.ResponseWriter, r *http.Request) {
	m, ok := h.host(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, MonitorsOf(m, r.URL.Query().Get("type")))
}

func (h *handler) host(w http.ResponseWriter, r *http.Request) (*telemetry.TelemetryManager, bool) {
	hostname := chi.URLParam(r, "hostname")
	m, ok := h.hosts.Find(hostname)
	if !ok {
		middleware.SendError(w, r, http.StatusNotFound, "HOST_NOT_FOUND", "Unknown host "+hostname)
		return nil, false
	}
	return m, true
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
