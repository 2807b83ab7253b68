package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("AVG_FRAME_BANDWIDTH", "8000000000")
	if got := GetEnvInt64("AVG_FRAME_BANDWIDTH", 1); got != 8000000000 {
		t.Errorf("GetEnvInt64 = %d, want 8000000000", got)
	}

	t.Setenv("AVG_FRAME_BANDWIDTH", "lots")
	if got := GetEnvInt64("AVG_FRAME_BANDWIDTH", 7); got != 7 {
		t.Errorf("invalid value should fall back, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"1", false, true},
		{"TRUE", false, true},
		{"on", false, true},
		{"0", true, false},
		{"no", true, false},
		{"", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("STATS_COMPRESS", tt.value)
			if got := GetEnvBool("STATS_COMPRESS", tt.fallback); got != tt.want {
				t.Errorf("GetEnvBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestLoad_dotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.env")
	if err := os.WriteFile(path, []byte("LOOKAHEAD_BUFFERS=12\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("LOOKAHEAD_BUFFERS")
	t.Cleanup(func() { os.Unsetenv("LOOKAHEAD_BUFFERS") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnvInt("LOOKAHEAD_BUFFERS", 0); got != 12 {
		t.Errorf("LOOKAHEAD_BUFFERS = %d, want 12", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "absent.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
