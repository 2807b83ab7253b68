package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: expected 200, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestMetrics_counters_and_gauges(t *testing.T) {
	m := New()
	m.IncStatsAppended()
	m.IncStatsAppended()
	m.AddStatsConsumed(1)
	m.IncRCAdvances()
	m.IncConstructFailures("stats_log")
	m.ContextBuilt()

	out := scrape(t, m, func() {
		m.SetStatsPending(1)
		m.SetRCHead(3)
		m.SetReconFrames(42)
	})

	for _, want := range []string{
		"encctx_stats_appended_total 2",
		"encctx_stats_consumed_total 1",
		"encctx_rc_ring_advances_total 1",
		`encctx_construct_failures_total{step="stats_log"} 1`,
		"encctx_live_contexts 1",
		"encctx_stats_pending 1",
		"encctx_rc_ring_head 3",
		"encctx_recon_frames 42",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape:\n%s", want, out)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := scrape(t, m, nil)
	if !strings.Contains(out, "encctx_http_requests_total 2") {
		t.Errorf("expected 2 requests:\n%s", out)
	}
	if !strings.Contains(out, "encctx_http_errors_total 1") {
		t.Errorf("expected 1 error:\n%s", out)
	}
}

func TestRequestMiddleware_nil_metrics(t *testing.T) {
	called := false
	h := RequestMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil metrics middleware should pass through")
	}
}
