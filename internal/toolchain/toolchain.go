// Package toolchain defines the narrow contract between the pipeline and a
// language toolchain: frame script buffers, compile documents into a runnable
// artifact or diagnostics, and list completions at an offset.
package toolchain

import (
	"context"
	"io"

	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is a compiler finding in document coordinates: Start and End
// are byte offsets into the named document, End exclusive.
type Diagnostic struct {
	Severity Severity
	Code     string
	Message  string
	Document string
	Start    int
	End      int
}

// Item is one completion candidate.
type Item struct {
	DisplayText string `json:"DisplayText"`
	Kind        string `json:"Kind,omitempty"`
	Detail      string `json:"Detail,omitempty"`
}

// Outcome describes how a finished artifact run ended. Exception is empty
// when the program completed normally.
type Outcome struct {
	ExitCode  int
	Exception string
}

// Artifact is a compiled program owned by a single run.
//
// Contract:
//   - Start launches the program once and returns as soon as it is running,
//     writing its output to stdout and stderr. ctx bounds the whole life of
//     the process: cancelling it kills the program, during Start or after.
//   - Close destroys the artifact; it is called exactly once after the
//     process has been waited for, or the run is abandoned.
type Artifact interface {
	Start(ctx context.Context, stdout, stderr io.Writer) (Process, error)
	Close() error
}

// Process is a started program.
type Process interface {
	// Wait blocks until the program exits or its start context is cancelled,
	// in which case the error carries the context's cause.
	Wait() (Outcome, error)
}

// Toolchain compiles and inspects workspaces.
//
// Contract:
//   - Compile never executes user code. On success it returns an artifact and
//     possibly non-error diagnostics; on failure a nil artifact and the
//     diagnostics. A non-nil error means the toolchain itself failed.
//   - Complete returns candidates in the toolchain's own order.
//   - Both must honor ctx cancellation.
//   - Implementations must be safe for concurrent use and keep no state
//     between calls.
type Toolchain interface {
	workspace.Framer
	Compile(ctx context.Context, kind workspace.Kind, docs []workspace.Document) (Artifact, []Diagnostic, error)
	Complete(ctx context.Context, kind workspace.Kind, docs []workspace.Document, document string, offset int) ([]Item, error)
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
