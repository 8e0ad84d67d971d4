package coordinator

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"
)

func TestHandlersDocumented(t *testing.T) {
	for _, name := range []string{"coordinator.go", "handlers.go"} {
		f, err := parser.ParseFile(token.NewFileSet(), name, nil, parser.ParseComments)
		if err != nil {
			t.Fatalf("err:%e", err)
		}

		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !ast.IsExported(fn.Name.Name) {
				continue
			}

			if fn.Doc == nil || fn.Doc.Text() == "" {
				t.Errorf("%s: %s has no doc comment", name, fn.Name.Name)
			}
		}
	}
}
