package gotool

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
)

var errNoContainersConfigured = errors.New("no sandbox containers configured")

// containerPool leases sandbox containers to jobs, one job per container at a
// time. A job holds its lease from build until its artifact is closed.
type containerPool struct {
	available chan string
	names     []string
	set       map[string]struct{}
	free      atomic.Int32
	logger    *slog.Logger
}

func newContainerPool(names []string, logger *slog.Logger) *containerPool {
	if logger == nil {
		logger = slog.Default()
	}
	cleaned := dedupeNames(names)
	pool := &containerPool{
		names:  cleaned,
		set:    make(map[string]struct{}, len(cleaned)),
		logger: logger,
	}
	if len(cleaned) == 0 {
		return pool
	}

	pool.available = make(chan string, len(cleaned))
	for _, name := range cleaned {
		pool.set[name] = struct{}{}
		pool.available <- name
	}
	pool.free.Store(int32(len(cleaned)))
	return pool
}

// acquire waits for a free container. Waiting counts against ctx, so a
// saturated pool surfaces as the caller's own deadline.
func (p *containerPool) acquire(ctx context.Context) (string, error) {
	if p.available == nil {
		return "", errNoContainersConfigured
	}

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case name := <-p.available:
		p.free.Add(-1)
		return name, nil
	}
}

func (p *containerPool) release(name string) bool {
	if p.available == nil {
		return false
	}
	if _, ok := p.set[name]; !ok {
		p.logger.Warn("release of unknown sandbox container", "container", name)
		return false
	}

	select {
	case p.available <- name:
		p.free.Add(1)
		return true
	default:
		p.logger.Warn("sandbox container released twice", "container", name)
		return false
	}
}

func (p *containerPool) capacity() int {
	return len(p.names)
}

func (p *containerPool) availableCount() int {
	return int(p.free.Load())
}

func dedupeNames(names []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
