// Package toolchaintest provides an in-memory toolchain for exercising the
// pipeline without a real compiler.
//
// The fake understands a tiny C#-flavoured language: every
// Console.WriteLine("text") call prints text, a line containing `throw`
// raises an exception, unbalanced parentheses are syntax errors, and program
// mode requires a `static void Main` declaration.
package toolchaintest

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

const (
	ScriptDocument = "Script.csx"
	Prologue       = "using System;\nclass Script {\nstatic void Main() {\n"
	Separator      = "\n"
	Epilogue       = "\n}\n}\n"
)

var writeLine = regexp.MustCompile(`Console\.WriteLine\("([^"]*)"\)`)

type CompileFunc func(ctx context.Context, kind workspace.Kind, docs []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error)

// StartFunc runs while the artifact is being started, before the program
// body. A non-nil error fails the start.
type StartFunc func(ctx context.Context) error

// RunFunc is the program body. ctx is the one the artifact was started with.
type RunFunc func(ctx context.Context, stdout, stderr io.Writer) (toolchain.Outcome, error)

type CompleteFunc func(ctx context.Context, kind workspace.Kind, docs []workspace.Document, document string, offset int) ([]toolchain.Item, error)

// Toolchain is a configurable fake. Zero values use the built-in behavior.
type Toolchain struct {
	CompileFunc  CompileFunc
	StartFunc    StartFunc
	RunFunc      RunFunc
	CompleteFunc CompleteFunc

	mu            sync.Mutex
	compiled      [][]workspace.Document
	completedDoc  string
	completedAt   int
	closed        int
	artifactsMade int
}

func New() *Toolchain {
	return &Toolchain{}
}

func (t *Toolchain) Frame(_ []string, _ []string) workspace.Frame {
	return workspace.Frame{
		Document:  ScriptDocument,
		Prologue:  Prologue,
		Separator: Separator,
		Epilogue:  Epilogue,
	}
}

func (t *Toolchain) Compile(ctx context.Context, kind workspace.Kind, docs []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
	t.mu.Lock()
	t.compiled = append(t.compiled, docs)
	t.mu.Unlock()

	if t.CompileFunc != nil {
		return t.CompileFunc(ctx, kind, docs)
	}

	var diags []toolchain.Diagnostic
	hasMain := false
	for _, doc := range docs {
		diags = append(diags, checkParens(doc)...)
		if strings.Contains(doc.Text, "static void Main") {
			hasMain = true
		}
	}
	if !kind.IsScript() && !hasMain && len(docs) > 0 {
		diags = append(diags, toolchain.Diagnostic{
			Severity: toolchain.SeverityError,
			Code:     "CS5001",
			Message:  "Program does not contain a static 'Main' method suitable for an entry point",
			Document: docs[0].Name,
		})
	}
	if len(diags) > 0 {
		return nil, diags, nil
	}
	return t.NewArtifact(docs), nil, nil
}

func (t *Toolchain) Complete(ctx context.Context, kind workspace.Kind, docs []workspace.Document, document string, offset int) ([]toolchain.Item, error) {
	t.mu.Lock()
	t.completedDoc = document
	t.completedAt = offset
	t.mu.Unlock()

	if t.CompleteFunc != nil {
		return t.CompleteFunc(ctx, kind, docs, document, offset)
	}
	for _, doc := range docs {
		if doc.Name != document {
			continue
		}
		if offset < 0 || offset > len(doc.Text) {
			return nil, fmt.Errorf("offset %d outside document %s", offset, document)
		}
		if strings.HasSuffix(doc.Text[:offset], "Console.") {
			return []toolchain.Item{
				{DisplayText: "WriteLine", Kind: "Method"},
				{DisplayText: "Write", Kind: "Method"},
				{DisplayText: "ReadLine", Kind: "Method"},
			}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown document %s", document)
}

// NewArtifact builds an artifact that runs the given documents with the fake
// semantics, or RunFunc when set.
func (t *Toolchain) NewArtifact(docs []workspace.Document) *Artifact {
	t.mu.Lock()
	t.artifactsMade++
	t.mu.Unlock()
	return &Artifact{owner: t, docs: docs}
}

// Compiled returns the documents of every Compile call in order.
func (t *Toolchain) Compiled() [][]workspace.Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]workspace.Document(nil), t.compiled...)
}

// LastCompletion returns the document and byte offset of the last Complete call.
func (t *Toolchain) LastCompletion() (string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedDoc, t.completedAt
}

// Closed reports how many artifacts have been closed.
func (t *Toolchain) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Artifact struct {
	owner *Toolchain
	docs  []workspace.Document
}

func (a *Artifact) Start(ctx context.Context, stdout, stderr io.Writer) (toolchain.Process, error) {
	if a.owner.StartFunc != nil {
		if err := a.owner.StartFunc(ctx); err != nil {
			return nil, err
		}
	}
	return &process{artifact: a, ctx: ctx, stdout: stdout, stderr: stderr}, nil
}

type process struct {
	artifact *Artifact
	ctx      context.Context
	stdout   io.Writer
	stderr   io.Writer
}

func (p *process) Wait() (toolchain.Outcome, error) {
	if run := p.artifact.owner.RunFunc; run != nil {
		return run(p.ctx, p.stdout, p.stderr)
	}
	for _, doc := range p.artifact.docs {
		for _, line := range strings.Split(doc.Text, "\n") {
			if strings.Contains(line, "throw") {
				fmt.Fprintln(p.stderr, "Unhandled exception. System.Exception")
				return toolchain.Outcome{ExitCode: 1, Exception: "System.Exception: thrown by user code"}, nil
			}
			for _, m := range writeLine.FindAllStringSubmatch(line, -1) {
				fmt.Fprintln(p.stdout, m[1])
			}
		}
	}
	return toolchain.Outcome{}, nil
}

func (a *Artifact) Close() error {
	a.owner.mu.Lock()
	a.owner.closed++
	a.owner.mu.Unlock()
	return nil
}

// checkParens reports the first unmatched opening parenthesis as a span
// covering just that character, or a stray closing one.
func checkParens(doc workspace.Document) []toolchain.Diagnostic {
	var open []int
	for i, r := range doc.Text {
		switch r {
		case '(':
			open = append(open, i)
		case ')':
			if len(open) == 0 {
				return []toolchain.Diagnostic{syntaxError(doc.Name, i, "Unexpected ')'")}
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return []toolchain.Diagnostic{syntaxError(doc.Name, open[0], ") expected")}
	}
	return nil
}

func syntaxError(document string, at int, msg string) toolchain.Diagnostic {
	return toolchain.Diagnostic{
		Severity: toolchain.SeverityError,
		Code:     "CS1026",
		Message:  msg,
		Document: document,
		Start:    at,
		End:      at + 1,
	}
}
