package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type fakeRefresher struct {
	snap market.Snapshot
	err  error
}

func (f *fakeRefresher) ForceRefresh(ctx context.Context) (market.Snapshot, error) {
	return f.snap, f.err
}

type fakeStore struct {
	report reports.Report
	err    error
}

func (f *fakeStore) LoadByID(ctx context.Context, id uint64) (reports.Report, error) {
	if f.err != nil {
		return reports.Report{}, f.err
	}
	return f.report, nil
}

func (f *fakeStore) LoadLatest(ctx context.Context) (reports.Report, error) {
	if f.err != nil {
		return reports.Report{}, f.err
	}
	return f.report, nil
}

func newTestServer(t *testing.T, refresher wsapi.Refresher, store reports.Store) *Server {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := metrics.NewRegistry()
	c := cache.New(cache.Config{L1Capacity: 100, L1Shards: 4, L1MaxTTL: time.Minute}, nil, reg, fc, zap.NewNop())
	hub := broadcast.New(16, reg)
	guards := resilience.NewManager(fc)
	readPath := reports.NewReadPath(c, store)
	renderer := func(w http.ResponseWriter, report reports.Report) error {
		_, err := w.Write(report.OpaquePayload)
		return err
	}
	return New(c, hub, guards, refresher, readPath, renderer, wsapi.Config{}, fc, reg, zap.NewNop())
}

func TestHandleHealth_ReportsStatusHealthy(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestHandleClearCache_RejectsNonPost(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/clear-cache", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleMarketSummary_FallsBackToForceRefreshOnMiss(t *testing.T) {
	refresher := &fakeRefresher{snap: market.Snapshot{BTCPriceUSD: 42000}}
	srv := newTestServer(t, refresher, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/market/summary", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache-Status"))
	assert.Contains(t, rec.Body.String(), "42000")
}

func TestHandleMarketSummary_ServesFromCacheWithoutRefresh(t *testing.T) {
	refresher := &fakeRefresher{err: apperr.New(apperr.KindUpstreamUnavailable, "should not be called")}
	srv := newTestServer(t, refresher, &fakeStore{})
	require.NoError(t, cache.SetJSON(context.Background(), srv.cache, "market:latest", market.Snapshot{BTCPriceUSD: 1000}, cache.RealTime))

	req := httptest.NewRequest(http.MethodGet, "/api/market/summary", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache-Status"))
}

func TestHandleReportByID_NotFoundForMalformedID(t *testing.T) {
	srv := newTestServer(t, &fakeRefresher{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/report/not-a-number", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLatestReport_SetsCacheControl(t *testing.T) {
	store := &fakeStore{report: reports.Report{ID: 1, OpaquePayload: []byte("rendered")}}
	srv := newTestServer(t, &fakeRefresher{}, store)
	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "rendered", rec.Body.String())
}

func TestHandleLatestReport_CacheStatusMissThenHit(t *testing.T) {
	store := &fakeStore{report: reports.Report{ID: 1, OpaquePayload: []byte("rendered")}}
	srv := newTestServer(t, &fakeRefresher{}, store)

	first := httptest.NewRecorder()
	srv.Mux().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/report", nil))
	assert.Equal(t, "miss", first.Header().Get("X-Cache-Status"))

	second := httptest.NewRecorder()
	srv.Mux().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/report", nil))
	assert.Equal(t, "hit", second.Header().Get("X-Cache-Status"))
}

func TestHandleReportByID_CacheStatusEmptyWhenAbsent(t *testing.T) {
	store := &fakeStore{err: apperr.New(apperr.KindNotFound, "no such report")}
	srv := newTestServer(t, &fakeRefresher{}, store)
	req := httptest.NewRequest(http.MethodGet, "/report/7", nil)
	rec := httptest.NewRecorder()

	srv.Mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "empty", rec.Header().Get("X-Cache-Status"))
}

func TestParseReportID(t *testing.T) {
	id, err := parseReportID("/report/42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = parseReportID("/report/")
	assert.Error(t, err)

	_, err = parseReportID("/report/abc")
	assert.Error(t, err)
}
