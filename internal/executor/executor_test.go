package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain/toolchaintest"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

func newTestService(tc *toolchaintest.Toolchain, clk clockwork.Clock, defaults budget.Budgets) *Service {
	return NewService(tc, NewSandbox(tc, WithClock(clk)), defaults, nil)
}

func scriptWorkspace(content string) workspace.Workspace {
	return workspace.Workspace{
		Type:    workspace.KindScript,
		Buffers: []workspace.Buffer{{Content: content}},
	}
}

func TestServiceRunSucceeds(t *testing.T) {
	tc := toolchaintest.New()
	svc := newTestService(tc, clockwork.NewFakeClock(), budget.Defaults())

	result, err := svc.Run(context.Background(), Request{Workspace: scriptWorkspace(`Console.WriteLine("hello")`)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Succeeded || result.Output != "hello\n" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Exception != nil {
		t.Fatalf("expected no exception, got %q", *result.Exception)
	}
	if result.Diagnostics == nil || len(result.Diagnostics) != 0 {
		t.Fatalf("expected empty diagnostics, got %#v", result.Diagnostics)
	}
}

func TestServiceRunReportsSyntaxErrorInCallerCoordinates(t *testing.T) {
	tc := toolchaintest.New()
	svc := newTestService(tc, clockwork.NewFakeClock(), budget.Defaults())

	result, err := svc.Run(context.Background(), Request{Workspace: scriptWorkspace(`Console.WriteLine("x"`)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded {
		t.Fatalf("expected failure")
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("expected one diagnostic, got %+v", result.Diagnostics)
	}
	d := result.Diagnostics[0]
	if d.Start != 17 || d.End != 18 || d.ID != "CS1026" || !d.Attributable {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
}

func TestServiceModeChangesAcceptance(t *testing.T) {
	const statement = `Console.WriteLine("hi")`

	tests := []struct {
		kind      workspace.Kind
		succeeded bool
		code      string
	}{
		{kind: workspace.KindScript, succeeded: true},
		{kind: workspace.KindConsole, succeeded: false, code: "CS5001"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := newTestService(toolchaintest.New(), clockwork.NewFakeClock(), budget.Defaults())
			ws := scriptWorkspace(statement)
			ws.Type = tt.kind

			result, err := svc.Run(context.Background(), Request{Workspace: ws})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Succeeded != tt.succeeded {
				t.Fatalf("expected succeeded=%v, got %+v", tt.succeeded, result)
			}
			if tt.code != "" && (len(result.Diagnostics) == 0 || result.Diagnostics[0].ID != tt.code) {
				t.Fatalf("expected diagnostic %s, got %+v", tt.code, result.Diagnostics)
			}
		})
	}
}

func TestServiceRunReportsException(t *testing.T) {
	svc := newTestService(toolchaintest.New(), clockwork.NewFakeClock(), budget.Defaults())

	result, err := svc.Run(context.Background(), Request{Workspace: scriptWorkspace("Console.WriteLine(\"a\")\nthrow")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded || result.Exception == nil {
		t.Fatalf("expected exception, got %+v", result)
	}
	if result.Output != "a\n" {
		t.Fatalf("expected output before the exception, got %q", result.Output)
	}
}

func TestServiceSynthesizesDiagnosticForSilentFailure(t *testing.T) {
	tc := toolchaintest.New()
	tc.CompileFunc = func(context.Context, workspace.Kind, []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
		return nil, nil, nil
	}
	svc := newTestService(tc, clockwork.NewFakeClock(), budget.Defaults())

	result, err := svc.Run(context.Background(), Request{Workspace: scriptWorkspace("anything")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Succeeded || len(result.Diagnostics) != 1 {
		t.Fatalf("expected one synthesized diagnostic, got %+v", result)
	}
	if d := result.Diagnostics[0]; d.ID != CompileFailedCode || d.Attributable || d.Start != 0 || d.End != 0 {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
}

func TestServiceUserCodeTimeoutReturnsPartialResult(t *testing.T) {
	tc := toolchaintest.New()
	started := make(chan struct{})
	tc.RunFunc = func(ctx context.Context, stdout, _ io.Writer) (toolchain.Outcome, error) {
		fmt.Fprint(stdout, "tick")
		close(started)
		<-ctx.Done()
		return toolchain.Outcome{}, ctx.Err()
	}
	clk := clockwork.NewFakeClock()
	svc := newTestService(tc, clk, budget.Defaults())

	type outcome struct {
		result RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := svc.Run(context.Background(), Request{
			Workspace: scriptWorkspace("loop"),
			Budgets:   budget.Budgets{UserCode: 3 * time.Second},
		})
		done <- outcome{result, err}
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("wait for timer: %v", err)
	}
	clk.Advance(3 * time.Second)

	res := <-done
	if !errors.Is(res.err, ErrUserCodeTimeout) {
		t.Fatalf("expected user code timeout, got %v", res.err)
	}
	if res.result.Output != "tick" || res.result.Exception == nil || res.result.Succeeded {
		t.Fatalf("unexpected partial result %+v", res.result)
	}
}

func TestServiceUsesDefaultInfrastructureBudget(t *testing.T) {
	tc := toolchaintest.New()
	started := make(chan struct{})
	tc.CompileFunc = func(ctx context.Context, _ workspace.Kind, _ []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
		close(started)
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	clk := clockwork.NewFakeClock()
	svc := newTestService(tc, clk, budget.Budgets{Infrastructure: 2 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), Request{Workspace: scriptWorkspace("x")})
		done <- err
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("wait for timer: %v", err)
	}
	clk.Advance(2 * time.Second)

	err := <-done
	var timeout *TimeoutError
	if !errors.As(err, &timeout) || timeout.Phase != PhaseInfrastructure || timeout.Budget != 2*time.Second {
		t.Fatalf("expected infrastructure timeout after 2s, got %v", err)
	}
}

func TestServiceRejectsMalformedWorkspace(t *testing.T) {
	svc := newTestService(toolchaintest.New(), clockwork.NewFakeClock(), budget.Defaults())

	_, err := svc.Run(context.Background(), Request{Workspace: workspace.Workspace{Type: workspace.KindScript}})
	if !errors.Is(err, workspace.ErrMalformedRequest) {
		t.Fatalf("expected malformed request, got %v", err)
	}
}
