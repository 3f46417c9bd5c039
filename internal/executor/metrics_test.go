package executor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
)

func TestMetricsObserver(t *testing.T) {
	m := telemetry.NewMetrics()
	observe := MetricsObserver(m)

	for _, tr := range []Transition{
		{From: StatePending, To: StateCompiling},
		{From: StateCompiling, To: StateRunning, Elapsed: 2 * time.Second},
		{From: StateRunning, To: StateSucceeded, Elapsed: 100 * time.Millisecond},
		{From: StatePending, To: StateCompiling},
		{From: StateCompiling, To: StateFailed, Elapsed: time.Second},
	} {
		observe(tr)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`snippet_runs_total{outcome="succeeded"} 1`,
		`snippet_runs_total{outcome="failed"} 1`,
		`snippet_phase_duration_seconds_count{phase="compile"} 2`,
		`snippet_phase_duration_seconds_count{phase="run"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition, got:\n%s", want, body)
		}
	}
}
