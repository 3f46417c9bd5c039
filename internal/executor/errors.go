package executor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInfrastructureTimeout means compilation or run setup exceeded the
	// infrastructure budget. It is a service fault.
	ErrInfrastructureTimeout = errors.New("infrastructure timeout")

	// ErrUserCodeTimeout means the submitted program did not finish within
	// the user-code budget. It is attributable to the caller's code.
	ErrUserCodeTimeout = errors.New("user code timeout")
)

type Phase string

const (
	PhaseInfrastructure Phase = "infrastructure"
	PhaseUserCode       Phase = "user code"
)

// TimeoutError reports which budget ran out. It matches exactly one of
// ErrInfrastructureTimeout and ErrUserCodeTimeout.
type TimeoutError struct {
	Phase  Phase
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Phase, e.Budget)
}

func (e *TimeoutError) Is(target error) bool {
	switch e.Phase {
	case PhaseInfrastructure:
		return target == ErrInfrastructureTimeout
	case PhaseUserCode:
		return target == ErrUserCodeTimeout
	}
	return false
}
