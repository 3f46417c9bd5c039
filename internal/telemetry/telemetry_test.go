package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: " WARN ", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "info", want: slog.LevelInfo},
		{input: "verbose", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := ParseLevel(tc.input); got != tc.want {
			t.Fatalf("ParseLevel(%q): expected %v, got %v", tc.input, tc.want, got)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Fatalf("unexpected entry: %v", entry)
	}

	buf.Reset()
	NewLogger(&buf, "info", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "warn", "json").Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc-123")
	if got := RequestID(ctx); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}

	generated := RequestID(WithRequestID(context.Background(), ""))
	if len(generated) != 36 {
		t.Fatalf("expected a generated uuid, got %q", generated)
	}

	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestRequestLoggerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	RequestLogger(logger, WithRequestID(context.Background(), "req-1")).Info("run")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("expected request_id attribute, got %q", buf.String())
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordRun("succeeded")
	m.RecordRun("succeeded")
	m.RecordRun("failed")
	m.RecordCompletion("ok")
	m.ObservePhase("compile", 300*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`snippet_runs_total{outcome="succeeded"} 2`,
		`snippet_runs_total{outcome="failed"} 1`,
		`snippet_completions_total{status="ok"} 1`,
		`snippet_phase_duration_seconds_count{phase="compile"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition, got:\n%s", want, body)
		}
	}
}
