// Package gotool compiles, runs and completes Go workspaces.
//
// Script mode frames the buffers as the body of func main. Program mode
// compiles every buffer as a file of package main. Diagnostics come from
// go/parser and go/types first, so most errors are reported without starting
// a process; only code that passes both reaches `go build`.
package gotool

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

const (
	CodeSyntax      = "GO1000"
	CodeType        = "GO2000"
	CodeNotMain     = "GO3001"
	CodeMissingMain = "GO3002"
	CodeBuild       = "GO4000"
)

type Options struct {
	Runner Runner
	// Janitor must already be started. Without one, New starts its own that
	// runs for the life of the process.
	Janitor       *Janitor
	Clock         clockwork.Clock
	JobDir        string
	GoBinary      string
	GoCache       string
	DefaultUsings []string
	Logger        *slog.Logger
}

type Toolchain struct {
	runner   Runner
	janitor  *Janitor
	jobDir   string
	goBinary string
	goCache  string
	usings   []string
	logger   *slog.Logger
}

var _ toolchain.Toolchain = (*Toolchain)(nil)

func New(opts Options) *Toolchain {
	runner := opts.Runner
	if runner == nil {
		runner = LocalRunner{}
	}

	jobDir := strings.TrimSpace(opts.JobDir)
	if jobDir == "" {
		jobDir = "/tmp/snippet-jobs"
	}

	goBinary := strings.TrimSpace(opts.GoBinary)
	if goBinary == "" {
		goBinary = "go"
	}

	goCache := strings.TrimSpace(opts.GoCache)
	if goCache == "" {
		goCache = filepath.Join(jobDir, ".gocache")
	}

	usings := opts.DefaultUsings
	if len(usings) == 0 {
		usings = DefaultUsings
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	janitor := opts.Janitor
	if janitor == nil {
		janitor = NewJanitor(opts.Clock, logger)
		janitor.Start(context.Background())
	}

	return &Toolchain{
		runner:   runner,
		janitor:  janitor,
		jobDir:   jobDir,
		goBinary: goBinary,
		goCache:  goCache,
		usings:   usings,
		logger:   logger,
	}
}

// Frame builds the script scaffolding. Requests without usings get the
// default set.
func (t *Toolchain) Frame(usings []string, sources []string) workspace.Frame {
	if len(usings) == 0 {
		usings = t.usings
	}
	return scriptFrame(usings, sources)
}
