package gotool

import (
	"go/scanner"
	"go/token"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

// ScriptDocument names the single document script buffers are framed into.
const ScriptDocument = "main.go"

// DefaultUsings are imported into script frames when the request names none.
var DefaultUsings = []string{"fmt", "strings", "math", "sort", "time", "os", "errors", "strconv"}

// scriptFrame wraps statements in package main and func main. Go rejects
// unused imports, so only the usings the sources actually select from are
// imported.
func scriptFrame(usings, sources []string) workspace.Frame {
	referenced := selectorBases(sources)

	var imports []string
	seen := make(map[string]struct{}, len(usings))
	for _, raw := range usings {
		importPath := strings.TrimSpace(raw)
		if importPath == "" {
			continue
		}
		if _, dup := seen[importPath]; dup {
			continue
		}
		seen[importPath] = struct{}{}
		if _, ok := referenced[path.Base(importPath)]; ok {
			imports = append(imports, importPath)
		}
	}
	sort.Strings(imports)

	var b strings.Builder
	b.WriteString("package main\n\n")
	if len(imports) > 0 {
		b.WriteString("import (\n")
		for _, imp := range imports {
			b.WriteString("\t")
			b.WriteString(strconv.Quote(imp))
			b.WriteString("\n")
		}
		b.WriteString(")\n\n")
	}
	b.WriteString("func main() {\n")

	return workspace.Frame{
		Document:  ScriptDocument,
		Prologue:  b.String(),
		Separator: "\n",
		Epilogue:  "\n}\n",
	}
}

// selectorBases returns every identifier that is immediately followed by a
// period, which is how a package reference looks in source.
func selectorBases(sources []string) map[string]struct{} {
	names := make(map[string]struct{})
	for _, src := range sources {
		fset := token.NewFileSet()
		file := fset.AddFile("", fset.Base(), len(src))

		var s scanner.Scanner
		s.Init(file, []byte(src), nil, 0)

		prev := ""
		for {
			_, tok, lit := s.Scan()
			if tok == token.EOF {
				break
			}
			if tok == token.PERIOD && prev != "" {
				names[prev] = struct{}{}
			}
			if tok == token.IDENT {
				prev = lit
			} else {
				prev = ""
			}
		}
	}
	return names
}
