package executor

import (
	"sync"
	"time"
)

// launchTracker keeps an exponentially weighted moving average of launch
// latencies across runs. It holds timing statistics only, never artifacts.
type launchTracker struct {
	mu    sync.Mutex
	ewma  time.Duration
	count int64
}

func newLaunchTracker() *launchTracker {
	return &launchTracker{}
}

func (t *launchTracker) observe(value time.Duration) {
	if value <= 0 {
		return
	}

	const alpha = 0.25

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		t.ewma = value
	} else {
		t.ewma = time.Duration((1-alpha)*float64(t.ewma) + alpha*float64(value))
	}
	t.count++
}

func (t *launchTracker) estimate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ewma
}
