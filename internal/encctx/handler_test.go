package encctx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"encode-hub/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*EncodeContext, *chi.Mux) {
	t.Helper()
	ec, err := New(smallConfig(), struct{}{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(ec.Destroy)
	r := chi.NewRouter()
	NewHandler(ec, logger.Discard(), nil).Routes(r)
	return ec, r
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Status(t *testing.T) {
	ec, r := newTestRouter(t)
	ec.AddReconFrames(3)
	ec.PushSceneChange(12)

	rec := get(t, r, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.ReconFrames != 3 || len(s.SceneChanges) != 1 || s.SceneChanges[0] != 12 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.RateControlDepth != 4 || s.RecodeTolerance != DefaultRecodeTolerance {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestHandler_Stats(t *testing.T) {
	ec, r := newTestRouter(t)
	ec.AppendStats(testRecord(1))
	ec.AppendStats(testRecord(2))
	ec.StatsLog().Publish()
	ec.ConsumeStats(1)

	rec := get(t, r, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s StatsSummary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Pending != 1 || s.Cursors.Start != 1 || s.Cursors.WriteEnd != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.TotalLeftStats != testRecord(2) {
		t.Errorf("total left = %+v", s.TotalLeftStats)
	}
}

func TestHandler_RateControl(t *testing.T) {
	ec, r := newTestRouter(t)
	ec.RateControlRing().Begin(0, 0, -1)
	ec.AdvanceRateControl()

	rec := get(t, r, "/rc/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp rcRingResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Head != 1 || resp.Depth != 4 || resp.States[0] != "active" || resp.States[1] != "uninitialized" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandler_RateControlSlot(t *testing.T) {
	ec, r := newTestRouter(t)
	ec.RateControlRing().Begin(2, 32, 16)

	tests := []struct {
		path string
		code int
	}{
		{"/rc/1", http.StatusOK},
		{"/rc/2", http.StatusConflict},
		{"/rc/9", http.StatusBadRequest},
		{"/rc/x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, r, tt.path)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}

	rec := get(t, r, "/rc/1")
	var resp rcSlotResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Params == nil || resp.Params.RollingTargetBits != 2000 || resp.Params.Size != -1 {
		t.Errorf("response = %+v", resp)
	}
}
