package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"encode-hub/internal/encctx"
	"encode-hub/internal/platform/logger"
	"encode-hub/internal/statfile"
)

func TestCloseStatsFile(t *testing.T) {
	t.Run("nil_writer", func(t *testing.T) {
		closeStatsFile(logger.Discard(), nil)
	})

	t.Run("closes_writer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pass1.stats")
		w, err := statfile.Create(path, false)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		closeStatsFile(logger.Discard(), w)

		if err := w.WriteStats(encctx.StatisticsRecord{Frame: 1}); !errors.Is(err, os.ErrClosed) {
			t.Errorf("WriteStats after close = %v, want os.ErrClosed", err)
		}
		r, err := statfile.Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer r.Close()
	})
}
