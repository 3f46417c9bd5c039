package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
	"github.com/alexdev-tb/snippet-runner/internal/diagnostics"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

// Request is a normalized workspace plus optional per-request budgets. Zero
// budgets fall back to the service defaults.
type Request struct {
	Workspace workspace.Workspace
	Budgets   budget.Budgets
}

// RunResult is the structured outcome of a run. Exception is nil unless the
// program raised or timed out.
type RunResult struct {
	Succeeded   bool                     `json:"Succeeded"`
	Output      string                   `json:"Output"`
	Exception   *string                  `json:"Exception"`
	Diagnostics []diagnostics.Diagnostic `json:"Diagnostics"`
}

// Executor runs workspaces end to end.
type Executor interface {
	Run(ctx context.Context, req Request) (RunResult, error)
}

// CompileFailedCode identifies the diagnostic added when the toolchain
// rejects a workspace without saying why.
const CompileFailedCode = "RUN0001"

type Service struct {
	toolchain toolchain.Toolchain
	sandbox   *Sandbox
	defaults  budget.Budgets
	logger    *slog.Logger
}

func NewService(tc toolchain.Toolchain, sandbox *Sandbox, defaults budget.Budgets, logger *slog.Logger) *Service {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Service{
		toolchain: tc,
		sandbox:   sandbox,
		defaults:  defaults.Or(budget.Defaults()),
		logger:    logger,
	}
}

// Run assembles, compiles and executes req.Workspace.
//
// Compilation failures and runtime faults come back as a RunResult with a nil
// error. A user-code timeout returns both the partial RunResult and an error
// matching ErrUserCodeTimeout; an infrastructure timeout returns an error
// matching ErrInfrastructureTimeout.
func (s *Service) Run(ctx context.Context, req Request) (RunResult, error) {
	if err := req.Workspace.Validate(); err != nil {
		return RunResult{}, err
	}
	asm, err := workspace.Assemble(req.Workspace, s.toolchain)
	if err != nil {
		return RunResult{}, err
	}

	job := Job{
		ID:        uuid.New().String(),
		Kind:      req.Workspace.Type,
		Documents: asm.Documents,
		Budgets:   req.Budgets.Or(s.defaults),
	}
	logger := telemetry.RequestLogger(s.logger, ctx).With("run_id", job.ID)

	exec, err := s.sandbox.Execute(ctx, job)
	result := RunResult{
		Output:      exec.Output,
		Diagnostics: diagnostics.Map(exec.Diagnostics, asm),
	}

	if err != nil {
		if errors.Is(err, ErrUserCodeTimeout) {
			msg := err.Error()
			result.Exception = &msg
			logger.Info("run finished", "state", exec.State, "output_bytes", len(exec.Output))
			return result, err
		}
		logger.Warn("run aborted", "state", exec.State, "error", err)
		return RunResult{}, err
	}

	switch {
	case !exec.Compiled:
		if !toolchain.HasErrors(exec.Diagnostics) {
			result.Diagnostics = append(result.Diagnostics, s.compileFailed(req.Workspace))
		}
	case exec.Exception != "":
		exc := exec.Exception
		result.Exception = &exc
	default:
		result.Succeeded = true
	}

	logger.Info("run finished",
		"state", exec.State,
		"diagnostics", len(result.Diagnostics),
		"compile_time", exec.CompileTime,
		"run_time", exec.RunTime,
	)
	return result, nil
}

func (s *Service) compileFailed(ws workspace.Workspace) diagnostics.Diagnostic {
	bufferID := ws.Buffers[0].ID
	if entry, ok := ws.Entry(); ok {
		bufferID = entry.ID
	}
	return diagnostics.Diagnostic{
		Message:  fmt.Sprintf("compilation failed without diagnostics (%s)", ws.Type),
		ID:       CompileFailedCode,
		Severity: string(toolchain.SeverityError),
		BufferID: bufferID,
	}
}
