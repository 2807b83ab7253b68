package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_formats(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "info", "json").Info("context built", "depth", 4)
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("json output not decodable: %v (%s)", err, buf.String())
	}
	if m["msg"] != "context built" {
		t.Errorf("msg = %v", m["msg"])
	}

	buf.Reset()
	NewWriter(&buf, "info", "text").Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record should be filtered at info: %s", buf.String())
	}
	NewWriter(&buf, "debug", "text").Debug("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("expected text record, got %s", buf.String())
	}
}

func TestRequestLogger_route_pattern(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug", "json")

	r := chi.NewRouter()
	r.Use(RequestLogger(log))
	r.Get("/rc/{gop}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rc/17", nil))

	out := buf.String()
	if !strings.Contains(out, `"route":"/rc/{gop}"`) {
		t.Errorf("expected route pattern in log: %s", out)
	}
	if !strings.Contains(out, `"size":2`) {
		t.Errorf("expected response size in log: %s", out)
	}
}
