package gotool

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	cleanupQueueSize   = 128
	cleanupMaxAttempts = 5
)

type cleanupRequest struct {
	path    string
	attempt int
}

// Janitor removes job directories in the background, retrying failed
// removals with a growing delay.
type Janitor struct {
	queue  chan cleanupRequest
	clock  clockwork.Clock
	logger *slog.Logger
	remove func(string) error
}

func NewJanitor(clk clockwork.Clock, logger *slog.Logger) *Janitor {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		queue:  make(chan cleanupRequest, cleanupQueueSize),
		clock:  clk,
		logger: logger,
		remove: os.RemoveAll,
	}
}

// Start processes removals until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-j.queue:
				j.process(req)
			}
		}
	}()
}

// Remove schedules path for deletion.
func (j *Janitor) Remove(path string) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" || cleanPath == string(filepath.Separator) {
		return
	}
	j.enqueue(cleanupRequest{path: cleanPath, attempt: 1})
}

func (j *Janitor) enqueue(req cleanupRequest) {
	select {
	case j.queue <- req:
	default:
		go j.process(req)
	}
}

func (j *Janitor) process(req cleanupRequest) {
	err := j.remove(req.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		j.logger.Debug("removed job dir", "path", req.path)
		return
	}

	if req.attempt >= cleanupMaxAttempts {
		j.logger.Error("job dir cleanup gave up", "path", req.path, "attempts", req.attempt, "error", err)
		return
	}

	delay := time.Duration(req.attempt) * time.Second
	j.logger.Warn("job dir cleanup retry", "path", req.path, "delay", delay, "attempt", req.attempt+1, "max_attempts", cleanupMaxAttempts)
	req.attempt++
	j.clock.AfterFunc(delay, func() { j.enqueue(req) })
}

// PurgeOrphans schedules every directory left in root by a previous process.
func (j *Janitor) PurgeOrphans(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("scan job dir failed", "path", root, "error", err)
		}
		return 0
	}

	purged := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		j.Remove(filepath.Join(root, entry.Name()))
		purged++
	}
	if purged > 0 {
		j.logger.Info("purging orphaned job dirs", "count", purged, "path", root)
	}
	return purged
}
