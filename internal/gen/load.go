package gen

import (
	"context"
	"errors"
	"fmt"
	"go/types"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

var (
	// ErrUnknownType is returned when a requested type is not declared in the package.
	ErrUnknownType = errors.New("type not found")
	// ErrNotInterface is returned for requested types that are not plain interfaces.
	ErrNotInterface = errors.New("not an interface type")
	// ErrMethodConflict is returned when an additional interface declares a
	// member the contract already has with a different signature.
	ErrMethodConflict = errors.New("conflicting method")
)

// Request selects the contracts to load.
type Request struct {
	// Pattern is the package pattern passed to the go command, e.g. "./internal/orders".
	Pattern string
	// Dir is the working directory for the go command. Empty means the current directory.
	Dir string
	// Types names the contracts. "Name+Other" asks for a stub of Name that
	// also implements Other.
	Types []string
	// Interfaces are added to every non-generic contract in a second stub.
	Interfaces []string
}

// Load type-checks the package and resolves the requested contracts.
func Load(ctx context.Context, req Request) (*Package, error) {
	cfg := &packages.Config{
		Context: ctx,
		Dir:     req.Dir,
		Mode:    packages.NeedName | packages.NeedTypes | packages.NeedFiles,
	}
	pkgs, err := packages.Load(cfg, req.Pattern)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.Pattern, err)
	}
	if len(pkgs) != 1 {
		return nil, fmt.Errorf("pattern %s matched %d packages, want 1", req.Pattern, len(pkgs))
	}
	p := pkgs[0]
	if len(p.Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", p.Errors)
	}
	if p.Types == nil {
		return nil, fmt.Errorf("type information not available for %s", req.Pattern)
	}

	pkg := &Package{Path: p.PkgPath, Name: p.Name, types: p.Types}
	if len(p.GoFiles) > 0 {
		pkg.Dir = filepath.Dir(p.GoFiles[0])
	}

	for _, spec := range req.Types {
		names := strings.Split(spec, "+")
		c, err := pkg.contract(strings.TrimSpace(names[0]))
		if err != nil {
			return nil, err
		}
		if len(names) > 1 {
			if err := pkg.extend(c, trimAll(names[1:])); err != nil {
				return nil, err
			}
			pkg.Contracts = append(pkg.Contracts, c)
			continue
		}
		pkg.Contracts = append(pkg.Contracts, c)

		if len(req.Interfaces) > 0 && !c.Generic() {
			ext, err := pkg.contract(c.Name)
			if err != nil {
				return nil, err
			}
			if err := pkg.extend(ext, req.Interfaces); err != nil {
				return nil, err
			}
			pkg.Contracts = append(pkg.Contracts, ext)
		}
	}
	return pkg, nil
}

func trimAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// contract resolves an interface declared in the package.
func (p *Package) contract(name string) (*Contract, error) {
	obj, ok := p.types.Scope().Lookup(name).(*types.TypeName)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", p.Path, name, ErrUnknownType)
	}
	named, ok := obj.Type().(*types.Named)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", p.Path, name, ErrNotInterface)
	}
	iface, ok := named.Underlying().(*types.Interface)
	if !ok || !iface.IsMethodSet() {
		return nil, fmt.Errorf("%s.%s: %w", p.Path, name, ErrNotInterface)
	}

	c := &Contract{Name: name}
	tparams := named.TypeParams()
	for i := 0; i < tparams.Len(); i++ {
		tp := tparams.At(i)
		c.TypeParams = append(c.TypeParams, TypeParam{Name: tp.Obj().Name(), Constraint: tp.Constraint()})
	}
	for i := 0; i < iface.NumMethods(); i++ {
		fn := iface.Method(i)
		if !fn.Exported() {
			return nil, fmt.Errorf("%s.%s: unexported method %s cannot be proxied", p.Path, name, fn.Name())
		}
		c.Methods = append(c.Methods, newMethod(fn))
	}
	return c, nil
}

// extend adds the named interfaces to c. Members already on c are kept once.
func (p *Package) extend(c *Contract, names []string) error {
	if c.Generic() {
		return fmt.Errorf("%s: additional interfaces on generic contracts are not supported", c.Name)
	}
	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)

	have := make(map[string]*types.Signature, len(c.Methods))
	for _, m := range c.Methods {
		have[m.Name] = m.sig
	}
	for _, name := range names {
		if name == c.Name {
			continue
		}
		extra, err := p.contract(name)
		if err != nil {
			return err
		}
		if extra.Generic() {
			return fmt.Errorf("%s: generic interface %s cannot be added", c.Name, name)
		}
		c.Interfaces = append(c.Interfaces, extra)
		for _, m := range extra.Methods {
			if sig, ok := have[m.Name]; ok {
				if !types.Identical(sig, m.sig) {
					return fmt.Errorf("%s.%s declared by %s: %w", c.Name, m.Name, name, ErrMethodConflict)
				}
				continue
			}
			have[m.Name] = m.sig
			c.Methods = append(c.Methods, m)
		}
	}
	return nil
}

func newMethod(fn *types.Func) Method {
	sig := fn.Type().(*types.Signature)
	m := Method{Name: fn.Name(), Variadic: sig.Variadic(), sig: sig}
	for i := 0; i < sig.Params().Len(); i++ {
		m.Params = append(m.Params, sig.Params().At(i).Type())
	}
	for i := 0; i < sig.Results().Len(); i++ {
		m.Results = append(m.Results, sig.Results().At(i).Type())
	}
	if n := len(m.Results); n > 0 && types.Identical(m.Results[n-1], errorType) {
		m.ReturnsErr = true
	}
	return m
}

var errorType = types.Universe.Lookup("error").Type()
