package gotool

import (
	"context"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"strings"
	"unicode/utf8"

	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

// Complete lists candidates at offset in document. Syntax and type errors
// are tolerated; completion works from whatever the checker could resolve.
//
// After `X.` it lists the exported members of package X or the fields and
// methods of value X. Elsewhere it lists the names in scope at the cursor,
// innermost scope first.
func (t *Toolchain) Complete(ctx context.Context, _ workspace.Kind, docs []workspace.Document, document string, offset int) ([]toolchain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}

	target := -1
	for i, doc := range docs {
		if doc.Name == document {
			target = i
		}
	}
	if target < 0 {
		return nil, fmt.Errorf("unknown document %s", document)
	}
	text := docs[target].Text
	if offset < 0 || offset > len(text) {
		return nil, fmt.Errorf("offset %d outside document %s", offset, document)
	}

	fset := token.NewFileSet()
	files := make([]*ast.File, 0, len(docs))
	for _, doc := range docs {
		file, _ := parser.ParseFile(fset, doc.Name, doc.Text, parser.SkipObjectResolution)
		files = append(files, file)
	}

	info := &types.Info{
		Types:  make(map[ast.Expr]types.TypeAndValue),
		Defs:   make(map[*ast.Ident]types.Object),
		Uses:   make(map[*ast.Ident]types.Object),
		Scopes: make(map[ast.Node]*types.Scope),
	}
	conf := types.Config{
		Importer: importer.ForCompiler(fset, "gc", nil),
		Error:    func(error) {},
	}
	pkg, _ := conf.Check("main", fset, files, info)
	if pkg == nil {
		return nil, nil
	}

	tokFile := fset.File(files[target].FileStart)
	if tokFile == nil {
		return nil, nil
	}
	pos := tokFile.Pos(offset)
	scope := innermostScope(pkg, info, files[target], pos)

	prefix, start := identBefore(text, offset)
	if start > 0 && text[start-1] == '.' {
		base, _ := identBefore(text, start-1)
		if base == "" {
			return nil, nil
		}
		return memberItems(pkg, scope, base, prefix, pos), nil
	}
	return scopeItems(pkg, scope, prefix, pos), nil
}

func innermostScope(pkg *types.Package, info *types.Info, file *ast.File, pos token.Pos) *types.Scope {
	if scope := pkg.Scope().Innermost(pos); scope != nil {
		return scope
	}
	if scope, ok := info.Scopes[file]; ok {
		return scope
	}
	return pkg.Scope()
}

// identBefore returns the identifier that ends at off and where it starts.
func identBefore(text string, off int) (string, int) {
	start := off
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isIdentRune(r) {
			break
		}
		start -= size
	}
	return text[start:off], start
}

func memberItems(pkg *types.Package, scope *types.Scope, base, prefix string, pos token.Pos) []toolchain.Item {
	_, obj := scope.LookupParent(base, pos)
	if obj == nil {
		return []toolchain.Item{}
	}

	items := []toolchain.Item{}
	if pkgName, ok := obj.(*types.PkgName); ok {
		imported := pkgName.Imported().Scope()
		for _, name := range imported.Names() {
			member := imported.Lookup(name)
			if !member.Exported() || !strings.HasPrefix(name, prefix) {
				continue
			}
			items = append(items, item(member, pkg))
		}
		return items
	}

	typ := obj.Type()
	if _, isType := obj.(*types.TypeName); isType {
		typ = types.NewPointer(typ)
	}

	seen := make(map[string]struct{})
	if st, ok := derefUnderlying(typ).(*types.Struct); ok {
		for i := 0; i < st.NumFields(); i++ {
			field := st.Field(i)
			if !strings.HasPrefix(field.Name(), prefix) || !visible(field, pkg) {
				continue
			}
			seen[field.Name()] = struct{}{}
			items = append(items, item(field, pkg))
		}
	}

	methodSet := types.NewMethodSet(typ)
	if _, isPtr := typ.(*types.Pointer); !isPtr && !types.IsInterface(typ) {
		methodSet = types.NewMethodSet(types.NewPointer(typ))
	}
	for i := 0; i < methodSet.Len(); i++ {
		method := methodSet.At(i).Obj()
		if _, dup := seen[method.Name()]; dup {
			continue
		}
		if !strings.HasPrefix(method.Name(), prefix) || !visible(method, pkg) {
			continue
		}
		items = append(items, item(method, pkg))
	}
	return items
}

func scopeItems(pkg *types.Package, scope *types.Scope, prefix string, pos token.Pos) []toolchain.Item {
	items := []toolchain.Item{}
	seen := make(map[string]struct{})
	for s := scope; s != nil; s = s.Parent() {
		for _, name := range s.Names() {
			if _, dup := seen[name]; dup || !strings.HasPrefix(name, prefix) || name == "_" {
				continue
			}
			obj := s.Lookup(name)
			// Locals are visible only after their declaration.
			if s != pkg.Scope() && s != types.Universe && obj.Pos().IsValid() && obj.Pos() > pos {
				continue
			}
			seen[name] = struct{}{}
			items = append(items, item(obj, pkg))
		}
	}
	return items
}

func derefUnderlying(t types.Type) types.Type {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	return t.Underlying()
}

func visible(obj types.Object, pkg *types.Package) bool {
	return obj.Exported() || obj.Pkg() == pkg
}

func item(obj types.Object, pkg *types.Package) toolchain.Item {
	return toolchain.Item{
		DisplayText: obj.Name(),
		Kind:        objectKind(obj),
		Detail:      types.ObjectString(obj, types.RelativeTo(pkg)),
	}
}

func objectKind(obj types.Object) string {
	switch o := obj.(type) {
	case *types.Func:
		if sig, ok := o.Type().(*types.Signature); ok && sig.Recv() != nil {
			return "Method"
		}
		return "Function"
	case *types.Var:
		if o.IsField() {
			return "Field"
		}
		return "Variable"
	case *types.Const:
		return "Constant"
	case *types.TypeName:
		return "Type"
	case *types.PkgName:
		return "Module"
	case *types.Builtin:
		return "Function"
	default:
		return "Text"
	}
}
