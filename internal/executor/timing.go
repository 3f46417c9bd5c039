package executor

import (
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
)

const (
	launchGraceFloor    = 250 * time.Millisecond
	launchGraceCeiling  = budget.MaxLaunchGrace
	launchGraceRatio    = 0.10
	launchGraceMaxRatio = 0.50
)

// userCodeLimit grows the user-code budget by a grace period tuned by the
// observed launch latency, so that container startup is not charged to the
// submitted program. A non-positive base means no limit and is returned as is.
func userCodeLimit(base, observed time.Duration) (limit time.Duration, grace time.Duration) {
	if base <= 0 {
		return base, 0
	}

	grace = time.Duration(float64(base) * launchGraceRatio)
	if grace < launchGraceFloor {
		grace = launchGraceFloor
	}
	if observed > grace {
		grace = observed
	}

	if grace > launchGraceCeiling {
		grace = launchGraceCeiling
	}
	if ceiling := time.Duration(float64(base) * launchGraceMaxRatio); grace > ceiling {
		grace = ceiling
	}

	return base + grace, grace
}
