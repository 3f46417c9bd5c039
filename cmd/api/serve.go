package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/alexdev-tb/snippet-runner/internal/api"
	"github.com/alexdev-tb/snippet-runner/internal/completion"
	"github.com/alexdev-tb/snippet-runner/internal/config"
	"github.com/alexdev-tb/snippet-runner/internal/executor"
	"github.com/alexdev-tb/snippet-runner/internal/server"
	"github.com/alexdev-tb/snippet-runner/internal/telemetry"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain/gotool"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	clk := clockwork.NewRealClock()
	metrics := telemetry.NewMetrics()

	janitor := gotool.NewJanitor(clk, logger)
	janitor.Start(ctx)
	if n := janitor.PurgeOrphans(cfg.Sandbox.JobDir); n > 0 {
		logger.Info("removed leftover job directories", "count", n, "dir", cfg.Sandbox.JobDir)
	}

	runner := newRunner(cfg, logger)
	ensureCtx, cancel := context.WithTimeout(ctx, cfg.Sandbox.InfrastructureTimeout)
	err := runner.Ensure(ensureCtx, "")
	cancel()
	if err != nil {
		return err
	}

	if docker, ok := runner.(*gotool.DockerRunner); ok {
		logSandboxLimits(ctx, docker, logger)
	}

	handler := newHandler(cfg, clk, runner, janitor, metrics, logger)
	srv := server.New(cfg.HTTP, handler, logger)

	logger.Info("snippet runner starting",
		"version", version,
		"runner", runner.Name(),
		"job_dir", cfg.Sandbox.JobDir,
		"infrastructure_timeout", cfg.Sandbox.InfrastructureTimeout,
		"user_code_timeout", cfg.Sandbox.UserCodeTimeout,
	)

	if err := srv.Run(ctx); err != nil {
		if errors.Is(err, server.ErrServerClosed) {
			logger.Info("server shutdown gracefully")
			return nil
		}
		return err
	}
	return nil
}

func newRunner(cfg config.Config, logger *slog.Logger) gotool.Runner {
	if cfg.Sandbox.Runner != config.RunnerDocker {
		return gotool.LocalRunner{}
	}
	return gotool.NewDockerRunner(gotool.DockerConfig{
		Binary:     cfg.Sandbox.Docker.Binary,
		Containers: cfg.Sandbox.Docker.Pool(),
		User:       cfg.Sandbox.Docker.User,
		KillAfter:  cfg.KillAfter(),
		Logger:     logger,
	})
}

func newHandler(cfg config.Config, clk clockwork.Clock, runner gotool.Runner, janitor *gotool.Janitor, metrics *telemetry.Metrics, logger *slog.Logger) http.Handler {
	tc := gotool.New(gotool.Options{
		Runner:        runner,
		Janitor:       janitor,
		Clock:         clk,
		JobDir:        cfg.Sandbox.JobDir,
		GoBinary:      cfg.Sandbox.GoBinary,
		GoCache:       cfg.Sandbox.GoCache,
		DefaultUsings: cfg.Sandbox.DefaultUsings,
		Logger:        logger,
	})

	opts := []executor.SandboxOption{
		executor.WithClock(clk),
		executor.WithLogger(logger),
		executor.WithObserver(executor.MetricsObserver(metrics)),
	}
	if cfg.Sandbox.LaunchGrace {
		opts = append(opts, executor.WithLaunchGrace())
	}
	sandbox := executor.NewSandbox(tc, opts...)

	defaults := cfg.Sandbox.Budgets()
	service := executor.NewService(tc, sandbox, defaults, logger)
	completer := completion.NewProvider(tc, clk, cfg.Sandbox.InfrastructureTimeout, logger)

	handler := api.NewHandler(service, completer, metrics, logger, api.WithBudgetCeiling(defaults, cfg.Ceiling()))
	return api.NewRouter(handler, metrics, logger)
}

func logSandboxLimits(ctx context.Context, docker *gotool.DockerRunner, logger *slog.Logger) {
	for _, name := range docker.Containers() {
		limits, err := docker.InspectLimits(ctx, name)
		if err != nil {
			logger.Warn("could not inspect sandbox container", "container", name, "error", err)
			continue
		}
		logger.Info("sandbox container ready", "container", name, "limits", gotool.FormatLimits(limits))
		if missing := limits.Unconfined(); len(missing) > 0 {
			logger.Warn("sandbox container is not fully confined", "container", name, "missing", missing)
		}
	}
}
