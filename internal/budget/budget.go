// Package budget models the two time budgets of a run and the scoped
// deadlines that enforce them against an injectable clock.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInfrastructure = 15 * time.Second
	DefaultUserCode       = 45 * time.Second

	// MaxLaunchGrace is the most a user-code budget is ever extended by to
	// absorb process launch latency.
	MaxLaunchGrace = 2 * time.Second
)

var ErrExceedsCeiling = errors.New("budget exceeds server limit")

// Budgets bounds one request. Infrastructure covers compilation and run
// setup; UserCode covers only the submitted program's own run time.
type Budgets struct {
	Infrastructure time.Duration
	UserCode       time.Duration
}

func Defaults() Budgets {
	return Budgets{Infrastructure: DefaultInfrastructure, UserCode: DefaultUserCode}
}

// Or fills unset (non-positive) budgets from fallback.
func (b Budgets) Or(fallback Budgets) Budgets {
	if b.Infrastructure <= 0 {
		b.Infrastructure = fallback.Infrastructure
	}
	if b.UserCode <= 0 {
		b.UserCode = fallback.UserCode
	}
	return b
}

// Ceiling bounds the budgets a single request may run under. Zero fields
// impose no bound.
type Ceiling struct {
	// Total bounds Infrastructure and UserCode together.
	Total time.Duration
	// Each bounds either budget alone.
	Each time.Duration
}

// Check reports an error wrapping ErrExceedsCeiling when b does not fit.
func (c Ceiling) Check(b Budgets) error {
	if c.Total > 0 && b.Infrastructure+b.UserCode > c.Total {
		return fmt.Errorf("%w: infrastructure %s plus user code %s is over %s",
			ErrExceedsCeiling, b.Infrastructure, b.UserCode, c.Total)
	}
	if c.Each > 0 {
		if b.Infrastructure > c.Each {
			return fmt.Errorf("%w: infrastructure %s is over %s", ErrExceedsCeiling, b.Infrastructure, c.Each)
		}
		if b.UserCode > c.Each {
			return fmt.Errorf("%w: user code %s is over %s", ErrExceedsCeiling, b.UserCode, c.Each)
		}
	}
	return nil
}

// WithTimeout derives a context that is cancelled with cause once d has
// elapsed on clk. The expiry is reported through context.Cause, which lets
// callers tell their own deadline apart from a cancelled parent. A
// non-positive d never expires.
//
// The returned cancel func stops the timer before cancelling, so a released
// scope leaves no pending timer on the clock.
func WithTimeout(parent context.Context, clk clockwork.Clock, d time.Duration, cause error) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if d <= 0 {
		return ctx, func() { cancel(context.Canceled) }
	}

	timer := clk.AfterFunc(d, func() { cancel(cause) })
	return ctx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

// Expired reports whether ctx ended because its own scope ran out.
func Expired(ctx context.Context, cause error) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), cause)
}
