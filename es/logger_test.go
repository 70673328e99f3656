package es_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/getpup/pupcart/es"
)

var _ es.Logger = es.NoOpLogger{}

var _ es.Logger = (*es.SlogLogger)(nil)

func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("failed to decode log line %q: %v", line, err)
		}
		out = append(out, record)
	}
	return out
}

func TestSlogLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := es.NewSlogLogger(slog.New(handler))

	logger.Debug(ctx, "stream loaded", "stream_id", "abc")
	logger.Info(ctx, "events appended", "stream_id", "abc", "event_count", 2)
	logger.Error(ctx, "append failed", "error", "boom")

	records := decodeLines(t, &buf)
	if len(records) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(records))
	}
	wantLevels := []string{"DEBUG", "INFO", "ERROR"}
	for i, want := range wantLevels {
		if records[i]["level"] != want {
			t.Errorf("line %d: level = %v, want %s", i, records[i]["level"], want)
		}
	}
	if records[1]["stream_id"] != "abc" || records[1]["event_count"] != float64(2) {
		t.Errorf("unexpected attributes: %v", records[1])
	}
}

func TestSlogLoggerHonoursHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := es.NewSlogLogger(slog.New(handler))

	logger.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written below handler level: %s", buf.String())
	}
}

func TestSlogLogger_NilFallsBackToDefault(t *testing.T) {
	logger := es.NewSlogLogger(nil)
	logger.Debug(context.Background(), "debug", "key", "value")
}
