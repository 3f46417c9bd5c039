package gotool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

func TestContainerPoolAcquireRelease(t *testing.T) {
	pool := newContainerPool([]string{"sandbox-1"}, nil)
	if pool.capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", pool.capacity())
	}

	first, err := pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error acquiring first container: %v", err)
	}
	if first != "sandbox-1" {
		t.Fatalf("expected sandbox-1, got %s", first)
	}
	if pool.availableCount() != 0 {
		t.Fatalf("expected no idle containers, got %d", pool.availableCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	if ok := pool.release(first); !ok {
		t.Fatalf("expected successful release")
	}
	if ok := pool.release(first); ok {
		t.Fatalf("expected second release to be rejected")
	}
	if ok := pool.release("stranger"); ok {
		t.Fatalf("expected release of unknown container to be rejected")
	}

	second, err := pool.acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error acquiring after release: %v", err)
	}
	if second != "sandbox-1" {
		t.Fatalf("expected sandbox-1 after release, got %s", second)
	}
}

func TestContainerPoolEmpty(t *testing.T) {
	pool := newContainerPool(nil, nil)
	if _, err := pool.acquire(context.Background()); !errors.Is(err, errNoContainersConfigured) {
		t.Fatalf("expected errNoContainersConfigured, got %v", err)
	}
}

func TestContainerPoolDeduplicatesNames(t *testing.T) {
	pool := newContainerPool([]string{"sandbox-1", "sandbox-1", " sandbox-2 ", ""}, nil)
	if pool.capacity() != 2 {
		t.Fatalf("expected capacity 2 after dedupe, got %d", pool.capacity())
	}
	if pool.availableCount() != 2 {
		t.Fatalf("expected 2 idle containers, got %d", pool.availableCount())
	}
}

type leaseRunner struct {
	LocalRunner
	ensureErr error
	acquired  int
	released  []string
}

func (r *leaseRunner) Ensure(context.Context, string) error { return r.ensureErr }

func (r *leaseRunner) Acquire(context.Context) (string, error) {
	r.acquired++
	return "lease-1", nil
}

func (r *leaseRunner) Release(target string) { r.released = append(r.released, target) }

func TestBuildReleasesLeaseOnFailure(t *testing.T) {
	runner := &leaseRunner{ensureErr: errors.New("sandbox down")}
	tc := New(Options{Runner: runner, JobDir: t.TempDir()})
	docs := []workspace.Document{{Name: "a.go", Text: "package main\n\nfunc main() {}\n"}}

	artifact, _, err := tc.Compile(context.Background(), workspace.KindConsole, docs)
	if err == nil || artifact != nil {
		t.Fatalf("expected failure without artifact, got %v %v", artifact, err)
	}
	if runner.acquired != 1 || len(runner.released) != 1 || runner.released[0] != "lease-1" {
		t.Fatalf("expected one acquire and one release, got %d %v", runner.acquired, runner.released)
	}
}

func TestBuildWaitsForFreeSandbox(t *testing.T) {
	runner := NewDockerRunner(DockerConfig{Containers: []string{"only"}})
	held, err := runner.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer runner.Release(held)

	tc := New(Options{Runner: runner, JobDir: t.TempDir()})
	docs := []workspace.Document{{Name: "a.go", Text: "package main\n\nfunc main() {}\n"}}

	errBusy := errors.New("budget spent waiting")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(errBusy)
	}()

	_, _, err = tc.Compile(ctx, workspace.KindConsole, docs)
	if !errors.Is(err, errBusy) {
		t.Fatalf("expected the context cause, got %v", err)
	}
	if runner.Idle() != 0 {
		t.Fatalf("expected the held sandbox to stay leased, got %d idle", runner.Idle())
	}
}
