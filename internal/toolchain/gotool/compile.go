package gotool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

const maxTypeErrors = 10

// Compile checks docs stage by stage and stops at the first stage that
// reports anything. It never runs the program.
func (t *Toolchain) Compile(ctx context.Context, kind workspace.Kind, docs []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, context.Cause(ctx)
	}
	if len(docs) == 0 {
		return nil, nil, errors.New("no documents to compile")
	}

	fset := token.NewFileSet()
	files, diags := parseDocuments(fset, docs)
	if len(diags) > 0 {
		return nil, diags, nil
	}
	if diags := checkStructure(fset, kind, docs, files); len(diags) > 0 {
		return nil, diags, nil
	}
	if diags := t.typeCheck(fset, docs, files); len(diags) > 0 {
		return nil, diags, nil
	}
	return t.build(ctx, docs)
}

func parseDocuments(fset *token.FileSet, docs []workspace.Document) ([]*ast.File, []toolchain.Diagnostic) {
	files := make([]*ast.File, 0, len(docs))
	var diags []toolchain.Diagnostic
	for _, doc := range docs {
		file, err := parser.ParseFile(fset, doc.Name, doc.Text, parser.SkipObjectResolution)
		if err != nil {
			var list scanner.ErrorList
			if errors.As(err, &list) {
				for _, e := range list {
					diags = append(diags, spanAt(doc, CodeSyntax, e.Msg, e.Pos.Offset))
				}
			} else {
				diags = append(diags, spanAt(doc, CodeSyntax, err.Error(), 0))
			}
		}
		files = append(files, file)
	}
	return files, diags
}

// checkStructure enforces what the go command needs from a program: every
// file in package main and, in program mode, a func main somewhere.
func checkStructure(fset *token.FileSet, kind workspace.Kind, docs []workspace.Document, files []*ast.File) []toolchain.Diagnostic {
	var diags []toolchain.Diagnostic
	hasMain := false
	for i, file := range files {
		if file.Name.Name != "main" {
			off := fset.Position(file.Name.Pos()).Offset
			diags = append(diags, spanAt(docs[i], CodeNotMain,
				fmt.Sprintf("package %s must be main to build a program", file.Name.Name), off))
		}
		for _, decl := range file.Decls {
			if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && fn.Name.Name == "main" {
				hasMain = true
			}
		}
	}
	if !kind.IsScript() && !hasMain {
		off := fset.Position(files[0].Name.Pos()).Offset
		diags = append(diags, spanAt(docs[0], CodeMissingMain, "function main is undeclared in the main package", off))
	}
	return diags
}

// typeCheck reports go/types errors. When the standard library cannot be
// imported on this host, the stage is skipped and the build reports instead.
func (t *Toolchain) typeCheck(fset *token.FileSet, docs []workspace.Document, files []*ast.File) []toolchain.Diagnostic {
	var errs []types.Error
	importFailed := false
	conf := types.Config{
		Importer: importer.ForCompiler(fset, "gc", nil),
		Error: func(err error) {
			var te types.Error
			if !errors.As(err, &te) {
				return
			}
			if strings.Contains(te.Msg, "could not import") {
				importFailed = true
			}
			errs = append(errs, te)
		},
	}
	_, _ = conf.Check("main", fset, files, nil)

	if importFailed {
		t.logger.Debug("type check skipped, imports unavailable", "errors", len(errs))
		return nil
	}

	byName := documentsByName(docs)
	var diags []toolchain.Diagnostic
	for _, e := range errs {
		if len(diags) == maxTypeErrors {
			break
		}
		pos := fset.Position(e.Pos)
		doc, ok := byName[pos.Filename]
		if !ok {
			continue
		}
		diags = append(diags, spanAt(doc, CodeType, e.Msg, pos.Offset))
	}
	return diags
}

func (t *Toolchain) build(ctx context.Context, docs []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
	target, err := t.runner.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, context.Cause(ctx)
		}
		return nil, nil, err
	}
	artifact, diags, err := t.buildIn(ctx, target, docs)
	if artifact == nil {
		t.runner.Release(target)
	}
	return artifact, diags, err
}

// buildIn builds docs inside the leased target. The returned artifact owns
// the lease.
func (t *Toolchain) buildIn(ctx context.Context, target string, docs []workspace.Document) (toolchain.Artifact, []toolchain.Diagnostic, error) {
	if err := t.runner.Ensure(ctx, target); err != nil {
		return nil, nil, err
	}

	jobPath := filepath.Join(t.jobDir, uuid.New().String())
	if err := os.MkdirAll(filepath.Join(jobPath, "tmp"), 0o777); err != nil {
		return nil, nil, fmt.Errorf("prepare job dir: %w", err)
	}

	names := make([]string, len(docs))
	for i, doc := range docs {
		names[i] = fmt.Sprintf("doc%d.go", i)
		if err := os.WriteFile(filepath.Join(jobPath, names[i]), []byte(doc.Text), 0o666); err != nil {
			t.janitor.Remove(jobPath)
			return nil, nil, fmt.Errorf("write source: %w", err)
		}
	}

	args := append([]string{t.goBinary, "build", "-trimpath", "-o", programName}, names...)
	cmd := t.runner.Command(ctx, Command{Target: target, Dir: jobPath, Env: t.buildEnv(jobPath), Args: args})
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		t.janitor.Remove(jobPath)
		if ctx.Err() != nil {
			return nil, nil, context.Cause(ctx)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, parseBuildOutput(out.String(), docs, names), nil
		}
		return nil, nil, fmt.Errorf("go build: %w", err)
	}

	return &Artifact{runner: t.runner, janitor: t.janitor, target: target, dir: jobPath}, nil, nil
}

func (t *Toolchain) buildEnv(jobPath string) []string {
	tmpDir := filepath.Join(jobPath, "tmp")
	return []string{
		"GOCACHE=" + t.goCache,
		"GOTMPDIR=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"GO111MODULE=off",
		"GOFLAGS=",
		"CGO_ENABLED=0",
	}
}

var buildLine = regexp.MustCompile(`^(?:\./)?(doc\d+\.go):(\d+):(\d+): (.*)$`)

// parseBuildOutput turns `file:line:col: message` lines back into document
// diagnostics. Output that names no location is reported once without one.
func parseBuildOutput(output string, docs []workspace.Document, names []string) []toolchain.Diagnostic {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	var diags []toolchain.Diagnostic
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		m := buildLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		i, ok := index[m[1]]
		if !ok {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		doc := docs[i]
		diags = append(diags, spanAt(doc, CodeBuild, m[4], lineColOffset(doc.Text, line, col)))
	}
	if len(diags) > 0 {
		return diags
	}

	msg := strings.TrimSpace(output)
	if msg == "" {
		msg = "build failed"
	}
	return []toolchain.Diagnostic{{
		Severity: toolchain.SeverityError,
		Code:     CodeBuild,
		Message:  msg,
	}}
}

// lineColOffset converts a 1-based line and byte column into a byte offset,
// clamped to the text.
func lineColOffset(text string, line, col int) int {
	if line < 1 {
		return 0
	}
	off := 0
	for l := 1; l < line; l++ {
		nl := strings.IndexByte(text[off:], '\n')
		if nl < 0 {
			return len(text)
		}
		off += nl + 1
	}
	lineEnd := len(text)
	if nl := strings.IndexByte(text[off:], '\n'); nl >= 0 {
		lineEnd = off + nl
	}
	if col < 1 {
		col = 1
	}
	return min(off+col-1, lineEnd)
}

// spanAt builds an error diagnostic covering the token that starts at off:
// a whole identifier, or a single character otherwise.
func spanAt(doc workspace.Document, code, msg string, off int) toolchain.Diagnostic {
	off = max(0, min(off, len(doc.Text)))
	return toolchain.Diagnostic{
		Severity: toolchain.SeverityError,
		Code:     code,
		Message:  msg,
		Document: doc.Name,
		Start:    off,
		End:      tokenEnd(doc.Text, off),
	}
}

func tokenEnd(text string, off int) int {
	if off >= len(text) {
		return off
	}
	r, size := utf8.DecodeRuneInString(text[off:])
	if !isIdentRune(r) {
		if r == '\n' {
			return off
		}
		return off + size
	}
	end := off
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	return end
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func documentsByName(docs []workspace.Document) map[string]workspace.Document {
	byName := make(map[string]workspace.Document, len(docs))
	for _, doc := range docs {
		byName[doc.Name] = doc
	}
	return byName
}
