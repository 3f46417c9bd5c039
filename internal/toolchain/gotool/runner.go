package gotool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Command is a process to start inside a job directory. Args[0] is the
// program. Target is the sandbox leased for the job, if the runner has any.
type Command struct {
	Target string
	Dir    string
	Env    []string
	Args   []string
}

// Runner starts toolchain and program processes, either on the host or in
// a sandbox container.
//
// A job acquires a target before its first command and releases it once its
// artifact is gone. Ensure with an empty target checks every sandbox.
type Runner interface {
	Command(ctx context.Context, c Command) *exec.Cmd
	Ensure(ctx context.Context, target string) error
	Acquire(ctx context.Context) (string, error)
	Release(target string)
	Name() string
}

// LocalRunner starts processes on the host.
type LocalRunner struct{}

func (LocalRunner) Command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	return cmd
}

func (LocalRunner) Ensure(context.Context, string) error { return nil }

func (LocalRunner) Acquire(context.Context) (string, error) { return "", nil }

func (LocalRunner) Release(string) {}

func (LocalRunner) Name() string { return "local" }

type DockerConfig struct {
	Binary string
	// Containers are interchangeable sandboxes; each runs one job at a time.
	Containers []string
	User       string
	// KillAfter bounds every process inside the container. Killing the
	// docker client does not stop the process it started, so this is what
	// actually ends runaway programs.
	KillAfter time.Duration
	Logger    *slog.Logger
}

// DockerRunner starts processes with `docker exec` in long-lived sandbox
// containers. The job directory must be mounted at the same path in every
// container.
type DockerRunner struct {
	dockerBin string
	execUser  string
	killAfter time.Duration
	pool      *containerPool
}

func NewDockerRunner(cfg DockerConfig) *DockerRunner {
	dockerBin := strings.TrimSpace(cfg.Binary)
	if dockerBin == "" {
		dockerBin = "docker"
	}

	containers := dedupeNames(cfg.Containers)
	if len(containers) == 0 {
		containers = []string{"snippet-sandbox"}
	}

	execUser := strings.TrimSpace(cfg.User)
	if execUser == "" {
		uid := os.Getuid()
		gid := os.Getgid()
		if uid >= 0 && gid >= 0 {
			execUser = fmt.Sprintf("%d:%d", uid, gid)
		}
	}

	return &DockerRunner{
		dockerBin: dockerBin,
		execUser:  execUser,
		killAfter: cfg.KillAfter,
		pool:      newContainerPool(containers, cfg.Logger),
	}
}

func (r *DockerRunner) Name() string { return "docker" }

func (r *DockerRunner) Binary() string { return r.dockerBin }

// Containers lists the pooled sandboxes in configuration order.
func (r *DockerRunner) Containers() []string {
	return append([]string(nil), r.pool.names...)
}

// Idle is the number of sandboxes not leased to a job.
func (r *DockerRunner) Idle() int { return r.pool.availableCount() }

func (r *DockerRunner) Acquire(ctx context.Context) (string, error) {
	return r.pool.acquire(ctx)
}

func (r *DockerRunner) Release(target string) {
	r.pool.release(target)
}

func (r *DockerRunner) Command(ctx context.Context, c Command) *exec.Cmd {
	target := c.Target
	if target == "" {
		target = r.pool.names[0]
	}

	args := []string{"exec", "-i"}
	if r.execUser != "" {
		args = append(args, "--user", r.execUser)
	}
	for _, env := range c.Env {
		args = append(args, "--env", env)
	}
	if c.Dir != "" {
		args = append(args, "--workdir", c.Dir)
	}
	args = append(args, target)
	if r.killAfter > 0 {
		secs := int64((r.killAfter + time.Second - 1) / time.Second)
		args = append(args, "timeout", "-s", "KILL", strconv.FormatInt(secs, 10))
	}
	args = append(args, c.Args...)

	return exec.CommandContext(ctx, r.dockerBin, args...)
}

// Ensure makes sure the target container, or every pooled container when
// target is empty, is running. Stopped containers are started.
func (r *DockerRunner) Ensure(ctx context.Context, target string) error {
	if target != "" {
		return r.ensureContainer(ctx, target)
	}
	for _, name := range r.pool.names {
		if err := r.ensureContainer(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *DockerRunner) ensureContainer(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, r.dockerBin, "inspect", "-f", "{{.State.Running}}", name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("inspect sandbox container %q: %w", name, err)
	}

	state := strings.TrimSpace(string(output))
	if state == "true" {
		return nil
	}

	if state == "false" {
		startCmd := exec.CommandContext(ctx, r.dockerBin, "start", name)
		if startErr := startCmd.Run(); startErr != nil {
			return fmt.Errorf("sandbox container %q not running and failed to start: %w", name, startErr)
		}
		return nil
	}

	return fmt.Errorf("sandbox container %q in unexpected state %q", name, state)
}
