package gotool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
)

const (
	programName = "snippet"
	waitDelay   = 500 * time.Millisecond
	stderrTail  = 64 << 10
)

// Artifact is a built binary inside its job directory. Close returns the
// sandbox lease and hands the directory to the janitor.
type Artifact struct {
	runner  Runner
	janitor *Janitor
	target  string
	dir     string
	once    sync.Once
}

// Start launches the binary. The process is killed when ctx is done.
func (a *Artifact) Start(ctx context.Context, stdout, stderr io.Writer) (toolchain.Process, error) {
	tail := &tailBuffer{limit: stderrTail}
	cmd := a.runner.Command(ctx, Command{
		Target: a.target,
		Dir:    a.dir,
		Env:    []string{"TMPDIR=" + filepath.Join(a.dir, "tmp")},
		Args:   []string{filepath.Join(a.dir, programName)},
	})
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("start program: %w", err)
	}
	return &process{ctx: ctx, cmd: cmd, tail: tail}, nil
}

type process struct {
	ctx  context.Context
	cmd  *exec.Cmd
	tail *tailBuffer
}

func (p *process) Wait() (toolchain.Outcome, error) {
	err := p.cmd.Wait()
	if p.ctx.Err() != nil {
		return toolchain.Outcome{ExitCode: -1}, context.Cause(p.ctx)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return toolchain.Outcome{
				ExitCode:  exitErr.ExitCode(),
				Exception: exceptionText(p.tail.String()),
			}, nil
		}
		return toolchain.Outcome{}, fmt.Errorf("run program: %w", err)
	}
	return toolchain.Outcome{}, nil
}

func (a *Artifact) Close() error {
	a.once.Do(func() {
		a.runner.Release(a.target)
		a.janitor.Remove(a.dir)
	})
	return nil
}

// exceptionText extracts the runtime's account of a crash: the panic or fatal
// error line and its continuation lines, without the goroutine dump.
func exceptionText(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "panic: ") && !strings.HasPrefix(line, "fatal error: ") {
			continue
		}
		out := []string{line}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" || strings.HasPrefix(next, "goroutine ") {
				break
			}
			out = append(out, next)
		}
		return strings.Join(out, "\n")
	}
	return ""
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
