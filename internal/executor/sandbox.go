package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

type State string

const (
	StatePending                State = "pending"
	StateCompiling              State = "compiling"
	StateRunning                State = "running"
	StateSucceeded              State = "succeeded"
	StateFailed                 State = "failed"
	StateInfrastructureTimedOut State = "infrastructure_timed_out"
	StateUserCodeTimedOut       State = "user_code_timed_out"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateInfrastructureTimedOut, StateUserCodeTimedOut:
		return true
	}
	return false
}

// Job is one unit of work for the sandbox.
type Job struct {
	ID        string
	Kind      workspace.Kind
	Documents []workspace.Document
	Budgets   budget.Budgets
}

// Execution is what the sandbox learned about a job. Compiled is false when
// the toolchain rejected the documents.
type Execution struct {
	ID          string
	State       State
	Compiled    bool
	Diagnostics []toolchain.Diagnostic
	Output      string
	Exception   string
	ExitCode    int
	CompileTime time.Duration
	RunTime     time.Duration
}

// Transition is reported to the observer on every state change. Elapsed is
// the time spent in From.
type Transition struct {
	RunID   string
	From    State
	To      State
	Elapsed time.Duration
}

type SandboxOption func(*Sandbox)

func WithClock(clk clockwork.Clock) SandboxOption {
	return func(s *Sandbox) { s.clock = clk }
}

func WithLogger(logger *slog.Logger) SandboxOption {
	return func(s *Sandbox) { s.logger = logger }
}

// WithObserver registers fn to be called synchronously on every transition.
func WithObserver(fn func(Transition)) SandboxOption {
	return func(s *Sandbox) { s.observe = fn }
}

// WithLaunchGrace extends each user-code budget by an allowance derived from
// observed launch latency.
func WithLaunchGrace() SandboxOption {
	return func(s *Sandbox) { s.launches = newLaunchTracker() }
}

// Sandbox compiles and runs one job at a time per call, enforcing the
// infrastructure budget on compilation and the user-code budget on the run.
// It keeps no per-job state between calls and is safe for concurrent use.
type Sandbox struct {
	toolchain toolchain.Toolchain
	clock     clockwork.Clock
	logger    *slog.Logger
	observe   func(Transition)
	launches  *launchTracker
}

func NewSandbox(tc toolchain.Toolchain, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		toolchain: tc,
		clock:     clockwork.NewRealClock(),
		logger:    telemetry.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tracker walks one execution through its states.
type tracker struct {
	sandbox *Sandbox
	logger  *slog.Logger
	exec    *Execution
	since   time.Time
}

func (t *tracker) enter(next State) {
	now := t.sandbox.clock.Now()
	tr := Transition{RunID: t.exec.ID, From: t.exec.State, To: next, Elapsed: now.Sub(t.since)}
	t.exec.State = next
	t.since = now

	t.logger.Debug("sandbox transition", "from", tr.From, "to", tr.To, "elapsed", tr.Elapsed)
	if t.sandbox.observe != nil {
		t.sandbox.observe(tr)
	}
}

// Execute drives job from Pending to a terminal state. Compilation failures
// and runtime faults are reported in the Execution with a nil error; the
// returned error is non-nil only for timeouts and toolchain faults.
//
// The infrastructure budget covers compilation and starting the program. The
// user-code budget opens once the program is running.
func (s *Sandbox) Execute(ctx context.Context, job Job) (Execution, error) {
	exec := Execution{ID: job.ID, State: StatePending}
	t := &tracker{
		sandbox: s,
		logger:  telemetry.RequestLogger(s.logger, ctx).With("run_id", job.ID),
		exec:    &exec,
		since:   s.clock.Now(),
	}

	infra, releaseInfra := budget.WithTimeout(ctx, s.clock, job.Budgets.Infrastructure, ErrInfrastructureTimeout)
	defer releaseInfra()

	t.enter(StateCompiling)
	artifact, diags, err := s.compile(infra, job)
	exec.CompileTime = s.clock.Since(t.since)
	exec.Diagnostics = diags
	if err != nil {
		t.enter(failureState(err))
		return exec, err
	}
	if artifact == nil {
		t.enter(StateFailed)
		return exec, nil
	}
	exec.Compiled = true

	t.enter(StateRunning)
	stdout := &lockedBuffer{}
	stderr := &lockedBuffer{}

	// The process outlives the infrastructure scope; kill ends it.
	procCtx, kill := context.WithCancelCause(ctx)
	defer kill(context.Canceled)

	proc, err := s.start(infra, procCtx, kill, job, artifact, stdout, stderr)
	releaseInfra()
	if err != nil {
		exec.RunTime = s.clock.Since(t.since)
		t.enter(failureState(err))
		return exec, err
	}

	outcome, err := s.wait(procCtx, kill, t.logger, job, artifact, proc, stderr)
	exec.RunTime = s.clock.Since(t.since)
	exec.Output = stdout.String()
	if err != nil {
		t.enter(failureState(err))
		return exec, err
	}

	exec.ExitCode = outcome.ExitCode
	exec.Exception = outcome.Exception
	if exec.Exception == "" && exec.ExitCode != 0 {
		exec.Exception = fmt.Sprintf("process exited with status %d", exec.ExitCode)
	}
	if exec.Exception != "" {
		t.enter(StateFailed)
	} else {
		t.enter(StateSucceeded)
	}
	return exec, nil
}

func failureState(err error) State {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		if timeout.Phase == PhaseUserCode {
			return StateUserCodeTimedOut
		}
		return StateInfrastructureTimedOut
	}
	return StateFailed
}

type compiled struct {
	artifact toolchain.Artifact
	diags    []toolchain.Diagnostic
	err      error
}

func (s *Sandbox) compile(scope context.Context, job Job) (toolchain.Artifact, []toolchain.Diagnostic, error) {
	done := make(chan compiled, 1)
	go func() {
		artifact, diags, err := s.toolchain.Compile(scope, job.Kind, job.Documents)
		done <- compiled{artifact: artifact, diags: diags, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			closeArtifact(res.artifact)
			return nil, nil, infraError("compile", scope, job, res.err)
		}
		return res.artifact, res.diags, nil
	case <-scope.Done():
		go func() {
			res := <-done
			closeArtifact(res.artifact)
		}()
		return nil, nil, infraError("compile", scope, job, context.Cause(scope))
	}
}

// infraError reports err as an infrastructure timeout when scope ran out.
func infraError(step string, scope context.Context, job Job, err error) error {
	if budget.Expired(scope, ErrInfrastructureTimeout) {
		return &TimeoutError{Phase: PhaseInfrastructure, Budget: job.Budgets.Infrastructure}
	}
	return fmt.Errorf("%s: %w", step, err)
}

type started struct {
	proc toolchain.Process
	err  error
}

// start launches artifact under the infrastructure scope. On error the
// artifact has been closed, or will be once an abandoned start returns.
func (s *Sandbox) start(scope, procCtx context.Context, kill context.CancelCauseFunc, job Job, artifact toolchain.Artifact, stdout, stderr *lockedBuffer) (toolchain.Process, error) {
	began := s.clock.Now()
	done := make(chan started, 1)
	go func() {
		proc, err := artifact.Start(procCtx, stdout, stderr)
		done <- started{proc: proc, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			closeArtifact(artifact)
			return nil, infraError("start", scope, job, res.err)
		}
		if s.launches != nil {
			s.launches.observe(s.clock.Since(began))
		}
		return res.proc, nil
	case <-scope.Done():
		kill(context.Cause(scope))
		go func() {
			res := <-done
			if res.proc != nil {
				_, _ = res.proc.Wait()
			}
			closeArtifact(artifact)
		}()
		return nil, infraError("start", scope, job, context.Cause(scope))
	}
}

type ran struct {
	outcome toolchain.Outcome
	err     error
}

// wait bounds a started program by the user-code budget and closes artifact
// once the program has exited. An abandoned program is killed first.
func (s *Sandbox) wait(procCtx context.Context, kill context.CancelCauseFunc, logger *slog.Logger, job Job, artifact toolchain.Artifact, proc toolchain.Process, stderr *lockedBuffer) (toolchain.Outcome, error) {
	limit := job.Budgets.UserCode
	if s.launches != nil {
		var grace time.Duration
		limit, grace = userCodeLimit(limit, s.launches.estimate())
		logger.Debug("user code budget", "base", job.Budgets.UserCode, "grace", grace)
	}
	scope, release := budget.WithTimeout(procCtx, s.clock, limit, ErrUserCodeTimeout)
	defer release()

	done := make(chan ran, 1)
	go func() {
		outcome, err := proc.Wait()
		closeArtifact(artifact)
		done <- ran{outcome: outcome, err: err}
	}()

	timedOut := &TimeoutError{Phase: PhaseUserCode, Budget: job.Budgets.UserCode}

	select {
	case res := <-done:
		if res.err != nil {
			if budget.Expired(scope, ErrUserCodeTimeout) {
				return toolchain.Outcome{}, timedOut
			}
			return toolchain.Outcome{}, fmt.Errorf("run: %w", res.err)
		}
		if res.outcome.Exception != "" {
			logger.Debug("user code raised", "stderr", stderr.String())
		}
		return res.outcome, nil
	case <-scope.Done():
		kill(context.Cause(scope))
		if budget.Expired(scope, ErrUserCodeTimeout) {
			return toolchain.Outcome{}, timedOut
		}
		return toolchain.Outcome{}, fmt.Errorf("run: %w", context.Cause(scope))
	}
}

func closeArtifact(a toolchain.Artifact) {
	if a == nil {
		return
	}
	_ = a.Close()
}
