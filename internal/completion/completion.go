// Package completion lists completion candidates at a cursor without ever
// compiling to an artifact or running user code.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
	"github.com/alexdev-tb/snippet-runner/internal/executor"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

// ErrInvalidPosition means the workspace has no cursor or the cursor lies
// outside its buffer. It is a client error.
var ErrInvalidPosition = errors.New("invalid position")

// Result keeps the toolchain's ordering.
type Result struct {
	Items []toolchain.Item `json:"Items"`
}

type Completer interface {
	Complete(ctx context.Context, ws workspace.Workspace) (Result, error)
}

type Provider struct {
	toolchain toolchain.Toolchain
	clock     clockwork.Clock
	timeout   time.Duration
	logger    *slog.Logger
}

// NewProvider bounds each completion by timeout, the infrastructure budget.
func NewProvider(tc toolchain.Toolchain, clk clockwork.Clock, timeout time.Duration, logger *slog.Logger) *Provider {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if timeout <= 0 {
		timeout = budget.DefaultInfrastructure
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Provider{toolchain: tc, clock: clk, timeout: timeout, logger: logger}
}

type completed struct {
	items []toolchain.Item
	err   error
}

func (p *Provider) Complete(ctx context.Context, ws workspace.Workspace) (Result, error) {
	if err := ws.Validate(); err != nil {
		return Result{}, err
	}
	entry, ok := ws.Entry()
	if !ok {
		return Result{}, fmt.Errorf("%w: no buffer carries a position", ErrInvalidPosition)
	}
	pos := *entry.Position
	byteOff, ok := workspace.ByteOffset(entry.Content, pos)
	if !ok {
		return Result{}, fmt.Errorf("%w: %d is outside [0, %d]", ErrInvalidPosition, pos, workspace.CharLen(entry.Content))
	}

	asm, err := workspace.Assemble(ws, p.toolchain)
	if err != nil {
		return Result{}, err
	}
	doc, docOff, ok := asm.Map.ToDocument(entry.ID, byteOff)
	if !ok {
		return Result{}, fmt.Errorf("%w: buffer %q is not part of the assembly", ErrInvalidPosition, entry.ID)
	}

	scope, release := budget.WithTimeout(ctx, p.clock, p.timeout, executor.ErrInfrastructureTimeout)
	defer release()

	done := make(chan completed, 1)
	go func() {
		items, err := p.toolchain.Complete(scope, ws.Type, asm.Documents, doc, docOff)
		done <- completed{items: items, err: err}
	}()

	var res completed
	select {
	case res = <-done:
	case <-scope.Done():
		res.err = context.Cause(scope)
	}
	if res.err != nil {
		if budget.Expired(scope, executor.ErrInfrastructureTimeout) {
			return Result{}, &executor.TimeoutError{Phase: executor.PhaseInfrastructure, Budget: p.timeout}
		}
		return Result{}, fmt.Errorf("complete: %w", res.err)
	}

	if res.items == nil {
		res.items = []toolchain.Item{}
	}
	telemetry.RequestLogger(p.logger, ctx).Debug("completion",
		"document", doc, "offset", docOff, "items", len(res.items))
	return Result{Items: res.items}, nil
}
