// Package scan statically extracts provider declarations from Go source.
// It finds calls to the provider package's constructors, records the debug
// name, kind, and position of each, and lists the providers a factory
// watches, giving a wiring overview without running the program.
package scan

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const providerImportPath = "github.com/go-drift/current/pkg/provider"

// Provider is one provider declaration found in source.
type Provider struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Var     string   `yaml:"var,omitempty"`
	File    string   `yaml:"file"`
	Line    int      `yaml:"line"`
	Watches []string `yaml:"watches,omitempty"`
}

// Report is the result of scanning one or more directories.
type Report struct {
	Module    string     `yaml:"module,omitempty"`
	Providers []Provider `yaml:"providers"`
}

// constructorKinds maps provider constructor names to the kind recorded in
// the report. The first four match the runtime's own kind strings.
var constructorKinds = map[string]string{
	"New":            "provider",
	"NewAsync":       "async",
	"NewState":       "state",
	"NewNotifier":    "notifier",
	"NewFamily":      "family",
	"NewAsyncFamily": "async-family",
}

var watchFuncs = map[string]bool{
	"Watch":      true,
	"TryWatch":   true,
	"AwaitWatch": true,
}

// Scan walks dirs and assembles a report of every provider declaration.
func Scan(module string, dirs []string) (*Report, error) {
	r := &Report{Module: module}
	for _, d := range dirs {
		ps, err := Dir(d)
		if err != nil {
			return nil, err
		}
		r.Providers = append(r.Providers, ps...)
	}
	return r, nil
}

// EncodeYAML writes the report to w as a YAML document.
func (r *Report) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Dir scans every Go file under dir, skipping test files, hidden and
// underscore directories, vendor, and testdata.
func Dir(dir string) ([]Provider, error) {
	var out []Provider
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") ||
				name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		ps, err := File(path)
		if err != nil {
			return err
		}
		out = append(out, ps...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// File scans a single Go source file. Files that do not import the provider
// package yield no declarations.
func File(path string) ([]Provider, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	alias := providerAlias(f)
	if alias == "" {
		return nil, nil
	}

	var out []Provider
	seen := map[*ast.CallExpr]bool{}

	maybeRecord := func(call *ast.CallExpr, varName string) bool {
		name, kind, ok := constructorInfo(call, alias)
		if !ok {
			return false
		}
		pos := fset.Position(call.Pos())
		out = append(out, Provider{
			Name:    name,
			Kind:    kind,
			Var:     varName,
			File:    path,
			Line:    pos.Line,
			Watches: watchTargets(call, alias),
		})
		return true
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ValueSpec:
			for i, v := range n.Values {
				call, ok := v.(*ast.CallExpr)
				if !ok || seen[call] {
					continue
				}
				varName := ""
				if i < len(n.Names) && n.Names[i].Name != "_" {
					varName = n.Names[i].Name
				}
				if maybeRecord(call, varName) {
					seen[call] = true
				}
			}
		case *ast.AssignStmt:
			for i, v := range n.Rhs {
				call, ok := v.(*ast.CallExpr)
				if !ok || seen[call] {
					continue
				}
				varName := ""
				if i < len(n.Lhs) {
					if id, ok := n.Lhs[i].(*ast.Ident); ok && id.Name != "_" {
						varName = id.Name
					}
				}
				if maybeRecord(call, varName) {
					seen[call] = true
				}
			}
		case *ast.CallExpr:
			if !seen[n] && maybeRecord(n, "") {
				seen[n] = true
			}
		}
		return true
	})

	return out, nil
}

// providerAlias returns the local name under which the file imports the
// provider package, or "" if it does not. Dot and blank imports are not
// scannable and are treated as absent.
func providerAlias(f *ast.File) string {
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if p != providerImportPath && !strings.HasSuffix(p, "/pkg/provider") {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "." || imp.Name.Name == "_" {
				return ""
			}
			return imp.Name.Name
		}
		return "provider"
	}
	return ""
}

// unwrapGeneric strips an explicit type instantiation, so
// provider.NewNotifier[int] resolves to the selector underneath.
func unwrapGeneric(fun ast.Expr) ast.Expr {
	switch idx := fun.(type) {
	case *ast.IndexExpr:
		return idx.X
	case *ast.IndexListExpr:
		return idx.X
	}
	return fun
}

// constructorInfo reports the declared name and kind if call is a provider
// constructor with a literal name argument.
func constructorInfo(call *ast.CallExpr, alias string) (name, kind string, ok bool) {
	sel, isSel := unwrapGeneric(call.Fun).(*ast.SelectorExpr)
	if !isSel {
		return "", "", false
	}
	pkg, isIdent := sel.X.(*ast.Ident)
	if !isIdent || pkg.Name != alias {
		return "", "", false
	}
	kind, known := constructorKinds[sel.Sel.Name]
	if !known || len(call.Args) == 0 {
		return "", "", false
	}
	lit, isLit := call.Args[0].(*ast.BasicLit)
	if !isLit || lit.Kind != token.STRING {
		return "", "", false
	}
	n, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", "", false
	}
	return n, kind, true
}

// watchTargets lists the expressions read with Watch, TryWatch, or
// AwaitWatch inside the constructor's factory literal.
func watchTargets(call *ast.CallExpr, alias string) []string {
	var out []string
	seen := map[string]bool{}
	for _, arg := range call.Args[1:] {
		fl, ok := arg.(*ast.FuncLit)
		if !ok {
			continue
		}
		ast.Inspect(fl.Body, func(n ast.Node) bool {
			inner, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := unwrapGeneric(inner.Fun).(*ast.SelectorExpr)
			if !ok {
				return true
			}
			pkg, ok := sel.X.(*ast.Ident)
			if !ok || pkg.Name != alias || !watchFuncs[sel.Sel.Name] || len(inner.Args) < 2 {
				return true
			}
			target := types.ExprString(inner.Args[1])
			if !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
			return true
		})
	}
	return out
}
