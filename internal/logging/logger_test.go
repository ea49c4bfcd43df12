package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerLevelsAndFormats(t *testing.T) {
	cases := []struct {
		level  string
		format string
	}{
		{"debug", "json"},
		{"info", "console"},
		{"warn", ""},
		{"error", "json"},
		{"", "console"},
		{"bogus", "bogus"},
	}
	for _, tc := range cases {
		logger, err := NewLogger(tc.level, tc.format, "")
		if err != nil {
			t.Fatalf("NewLogger(%q, %q) returned error: %v", tc.level, tc.format, err)
		}
		logger.Info("test entry")
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger, err := NewLogger("info", "json", path)
	if err != nil {
		t.Fatalf("NewLogger with file returned error: %v", err)
	}
	logger.Info("written to file")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log file to contain output")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext on empty ctx = %q, want empty", got)
	}
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("RequestIDFromContext = %q, want req-123", got)
	}
}
