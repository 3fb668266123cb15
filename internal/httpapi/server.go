// Package httpapi wires the HTTP surface onto net/http.ServeMux, following
// go-server/internal/server/server.go's mux-plus-handler-methods shape.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/broadcast"
	"github.com/thichuong/Web-server-Report-sub002/internal/cache"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/market"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
	"github.com/thichuong/Web-server-Report-sub002/internal/reports"
	"github.com/thichuong/Web-server-Report-sub002/internal/resilience"
	"github.com/thichuong/Web-server-Report-sub002/internal/wsapi"
)

// ReportRenderer renders an opaque report payload into an HTTP response
// body. Rendering (HTML/PDF/shadow-DOM assembly) is out of scope for this
// package; the core only calls this collaborator-supplied hook.
type ReportRenderer func(w http.ResponseWriter, report reports.Report) error

// Server bundles every HTTP handler the core exposes.
type Server struct {
	cache     *cache.Cache
	hub       *broadcast.Hub
	guards    *resilience.Manager
	refresher wsapi.Refresher
	readPath  *reports.ReadPath
	renderer  ReportRenderer
	wsCfg     wsapi.Config
	clock     clock.Clock
	metrics   *metrics.Registry
	logger    *zap.Logger
	startedAt time.Time
}

// New builds a Server and its mux. refresher is typically a
// *market.Adapter; it is accepted as an interface so it can be faked in
// tests and so the WebSocket session can reuse the same collaborator.
func New(c *cache.Cache, hub *broadcast.Hub, guards *resilience.Manager, refresher wsapi.Refresher,
	readPath *reports.ReadPath, renderer ReportRenderer, wsCfg wsapi.Config, clk clock.Clock,
	reg *metrics.Registry, logger *zap.Logger) *Server {
	return &Server{
		cache: c, hub: hub, guards: guards, refresher: refresher, readPath: readPath, renderer: renderer,
		wsCfg: wsCfg, clock: clk, metrics: reg, logger: logger, startedAt: clk.Now(),
	}
}

// Mux builds the HTTP route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cache-stats", s.handleCacheStats)
	mux.HandleFunc("/clear-cache", s.handleClearCache)
	mux.HandleFunc("/api/market/summary", s.handleMarketSummary)
	mux.HandleFunc("/api/market/summary/refresh", s.handleMarketSummaryRefresh)
	mux.HandleFunc("/api/rate-limit-status", s.handleRateLimitStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/report/", s.handleReportByID)
	mux.HandleFunc("/report", s.handleLatestReport)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAppError(w http.ResponseWriter, err error) {
	status, retryAfter := apperr.HTTPStatus(err)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", formatSeconds(retryAfter))
	}
	message := err.Error()
	if apperr.KindOf(err) == apperr.KindInternal {
		message = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := metrics.ReadSystemSnapshot(100 * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": s.clock.Now().Sub(s.startedAt).Seconds(),
		"cache": map[string]interface{}{
			"l1_entries": s.cache.Len(),
		},
		"broadcast": map[string]interface{}{
			"subscribers": s.hub.SubscriberCount(),
		},
		"breakers": s.guards.Snapshot(),
		"system":   snap,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"l1_entries": s.cache.Len(),
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.cache.ClearAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleMarketSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, ok, err := cache.GetJSON[market.Snapshot](ctx, s.cache, "market:latest")
	if err == nil && ok {
		w.Header().Set("X-Cache-Status", "hit")
		writeJSON(w, http.StatusOK, snap)
		return
	}

	fresh, ferr := s.refresher.ForceRefresh(ctx)
	if ferr != nil {
		writeAppError(w, apperr.New(apperr.KindUpstreamUnavailable, "no cached snapshot and refresh failed"))
		return
	}
	w.Header().Set("X-Cache-Status", "miss")
	writeJSON(w, http.StatusOK, fresh)
}

func (s *Server) handleMarketSummaryRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.refresher.ForceRefresh(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guards.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := wsapi.Upgrade(w, r, s.hub, s.cache, s.refresher, s.wsCfg, s.clock, s.metrics, s.logger)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess.Run(r.Context())
}

func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseReportID(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	report, tier, err := s.readPath.GetReport(r.Context(), id)
	if err != nil {
		s.writeReportError(w, "report not found", err)
		return
	}
	s.renderReport(w, report, tier)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	report, tier, err := s.readPath.GetLatestReport(r.Context())
	if err != nil {
		s.writeReportError(w, "no report available", err)
		return
	}
	s.renderReport(w, report, tier)
}

// writeReportError sets X-Cache-Status: empty before failing the request,
// since an absent report is itself a cache-read outcome the report read
// path must surface.
func (s *Server) writeReportError(w http.ResponseWriter, fallbackMessage string, err error) {
	status, _ := apperr.HTTPStatus(err)
	w.Header().Set("X-Cache-Status", "empty")
	message := fallbackMessage
	if apperr.KindOf(err) == apperr.KindInternal {
		message = "internal server error"
	}
	http.Error(w, message, status)
}

func (s *Server) renderReport(w http.ResponseWriter, report reports.Report, tier cache.Tier) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("X-Cache-Status", tier.String())
	if err := s.renderer(w, report); err != nil {
		s.logger.Error("report render failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func parseReportID(path string) (uint64, error) {
	const prefix = "/report/"
	if len(path) <= len(prefix) {
		return 0, apperr.New(apperr.KindValidation, "missing report id")
	}
	return parseUint(path[len(prefix):])
}

func parseUint(s string) (uint64, error) {
	var v uint64
	if s == "" {
		return 0, apperr.New(apperr.KindValidation, "empty report id")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, apperr.New(apperr.KindValidation, "non-numeric report id")
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}
