package executor

import "github.com/alexdev-tb/snippet-runner/internal/telemetry"

// MetricsObserver feeds sandbox transitions into m: one run count per
// terminal state and one phase duration each time compilation or the run
// ends.
func MetricsObserver(m *telemetry.Metrics) func(Transition) {
	return func(tr Transition) {
		switch tr.From {
		case StateCompiling:
			m.ObservePhase("compile", tr.Elapsed)
		case StateRunning:
			m.ObservePhase("run", tr.Elapsed)
		}
		if tr.To.Terminal() {
			m.RecordRun(string(tr.To))
		}
	}
}
