package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexdev-tb/snippet-runner/internal/config"
	"github.com/alexdev-tb/snippet-runner/internal/toolchain/gotool"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
)

type checkResult struct {
	name     string
	detail   string
	err      error
	warnings []string
}

type check struct {
	name string
	run  func(ctx context.Context) checkResult
}

func newCheckCmd() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the Go toolchain, job directory and sandbox container",
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.NoColor = true
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sandbox.InfrastructureTimeout)
			defer cancel()

			results := runChecks(ctx, sandboxChecks(cfg.Sandbox, newRunner(cfg, nil)))
			if failed := printResults(cmd.OutOrStdout(), results); failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func sandboxChecks(cfg config.Sandbox, runner gotool.Runner) []check {
	return []check{
		{name: "go toolchain", run: func(ctx context.Context) checkResult {
			return checkGo(ctx, runner, cfg.GoBinary)
		}},
		{name: "job directory", run: func(context.Context) checkResult {
			return checkJobDir(cfg.JobDir)
		}},
		{name: "sandbox", run: func(ctx context.Context) checkResult {
			return checkSandbox(ctx, runner, cfg.Docker.Network)
		}},
	}
}

// runChecks runs every check concurrently. A failing check does not stop the
// others; results keep the order of checks.
func runChecks(ctx context.Context, checks []check) []checkResult {
	results := make([]checkResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			res := c.run(gctx)
			res.name = c.name
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func printResults(w io.Writer, results []checkResult) int {
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(w, "%s %-14s %v\n", failColor.Sprint("FAIL"), res.name, res.err)
		} else {
			fmt.Fprintf(w, "%s   %-14s %s\n", okColor.Sprint("ok"), res.name, res.detail)
		}
		for _, warning := range res.warnings {
			fmt.Fprintf(w, "     %s %s\n", warnColor.Sprint("warn"), warning)
		}
	}
	return failed
}

func checkGo(ctx context.Context, runner gotool.Runner, goBinary string) checkResult {
	if goBinary == "" {
		goBinary = "go"
	}
	out, err := runner.Command(ctx, gotool.Command{Args: []string{goBinary, "version"}}).Output()
	if err != nil {
		return checkResult{err: fmt.Errorf("%s version via %s runner: %w", goBinary, runner.Name(), err)}
	}
	return checkResult{detail: strings.TrimSpace(string(out))}
}

func checkJobDir(dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{err: fmt.Errorf("create %s: %w", dir, err)}
	}
	scratch, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return checkResult{err: fmt.Errorf("%s is not writable: %w", dir, err)}
	}
	name := scratch.Name()
	_ = scratch.Close()
	_ = os.Remove(name)
	return checkResult{detail: dir}
}

func checkSandbox(ctx context.Context, runner gotool.Runner, network string) checkResult {
	docker, ok := runner.(*gotool.DockerRunner)
	if !ok {
		return checkResult{
			detail:   "local runner",
			warnings: []string{"submitted programs run directly on this host"},
		}
	}

	if err := docker.Ensure(ctx, ""); err != nil {
		return checkResult{err: err}
	}

	var res checkResult
	var details []string
	for _, name := range docker.Containers() {
		limits, err := docker.InspectLimits(ctx, name)
		if err != nil {
			return checkResult{err: err}
		}
		details = append(details, fmt.Sprintf("%s: %s", name, gotool.FormatLimits(limits)))
		for _, missing := range limits.Unconfined() {
			res.warnings = append(res.warnings, fmt.Sprintf("%s has no %s", name, missing))
		}
		if network != "" && limits.NetworkMode != network {
			res.warnings = append(res.warnings, fmt.Sprintf("%s network is %q, expected %q", name, limits.NetworkMode, network))
		}
	}
	res.detail = strings.Join(details, "; ")
	return res
}
