package gen

import (
	"bytes"
	"fmt"
	"go/types"
	"strings"
	"unicode"

	"github.com/dave/jennifer/jen"
)

const (
	interceptPath = "github.com/polisai/interpose/pkg/intercept"
	reflectPath   = "reflect"

	// Header marks generated files.
	Header = "Code generated by proxygen. DO NOT EDIT."
)

// Generate renders the stubs for every contract in pkg as a Go source file
// of that package.
func Generate(pkg *Package) ([]byte, error) {
	f := jen.NewFilePathName(pkg.Path, pkg.Name)
	f.ImportName(interceptPath, "intercept")
	f.HeaderComment(Header)

	e := &emitter{pkg: pkg}

	var registrations []jen.Code
	for _, c := range pkg.Contracts {
		if !c.Generic() {
			registrations = append(registrations, e.registration(c, nil))
		}
	}
	if len(registrations) > 0 {
		f.Func().Id("init").Params().Block(registrations...)
	}

	for _, c := range pkg.Contracts {
		if err := e.stub(f, c); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", pkg.Path, err)
	}
	return buf.Bytes(), nil
}

type emitter struct {
	pkg *Package
}

// ProxyName is the unexported stub type name for c, e.g. orderServiceAuditorProxy.
func ProxyName(c *Contract) string {
	var b strings.Builder
	r := []rune(c.Name)
	r[0] = unicode.ToLower(r[0])
	b.WriteString(string(r))
	for _, i := range c.Interfaces {
		b.WriteString(i.Name)
	}
	b.WriteString("Proxy")
	return b.String()
}

// contractType renders the contract with its own type parameters as
// arguments, e.g. Repo[T].
func contractType(c *Contract) *jen.Statement {
	s := jen.Id(c.Name)
	if c.Generic() {
		s.Types(typeParamIDs(c)...)
	}
	return s
}

func typeParamIDs(c *Contract) []jen.Code {
	ids := make([]jen.Code, len(c.TypeParams))
	for i, tp := range c.TypeParams {
		ids[i] = jen.Id(tp.Name)
	}
	return ids
}

func (e *emitter) typeParamDecls(c *Contract) ([]jen.Code, error) {
	decls := make([]jen.Code, len(c.TypeParams))
	for i, tp := range c.TypeParams {
		constraint, err := e.typeCode(tp.Constraint)
		if err != nil {
			return nil, fmt.Errorf("%s type parameter %s: %w", c.Name, tp.Name, err)
		}
		decls[i] = jen.Id(tp.Name).Add(constraint)
	}
	return decls, nil
}

func typeFor(t jen.Code) *jen.Statement {
	return jen.Qual(reflectPath, "TypeFor").Index(t).Call()
}

// registration builds the intercept.RegisterStub call for c.
func (e *emitter) registration(c *Contract, recv []jen.Code) jen.Code {
	ifaces := jen.Nil()
	if len(c.Interfaces) > 0 {
		list := make([]jen.Code, len(c.Interfaces))
		for i, iface := range c.Interfaces {
			list[i] = typeFor(jen.Id(iface.Name))
		}
		ifaces = jen.Index().Qual(reflectPath, "Type").Values(list...)
	}

	proxy := jen.Id(ProxyName(c))
	if len(recv) > 0 {
		proxy.Types(recv...)
	}
	return jen.Qual(interceptPath, "RegisterStub").Call(jen.Qual(interceptPath, "Stub").Values(jen.Dict{
		jen.Id("Contract"):   typeFor(contractType(c)),
		jen.Id("Interfaces"): ifaces,
		jen.Id("New"): jen.Func().Params(jen.Id("inst").Op("*").Qual(interceptPath, "Instance")).Any().Block(
			jen.Return(jen.Op("&").Add(proxy).Values(jen.Id("inst").Op(":").Id("inst"))),
		),
	}))
}

func (e *emitter) stub(f *jen.File, c *Contract) error {
	name := ProxyName(c)
	names := []string{c.Name}
	for _, i := range c.Interfaces {
		names = append(names, i.Name)
	}

	decls, err := e.typeParamDecls(c)
	if err != nil {
		return err
	}

	f.Comment(fmt.Sprintf("%s implements %s by forwarding every call to its Instance.", name, strings.Join(names, ", ")))
	typ := f.Type().Id(name)
	if c.Generic() {
		typ.Types(decls...)
	}
	typ.Struct(jen.Id("inst").Op("*").Qual(interceptPath, "Instance"))
	f.Line()

	recv := func() *jen.Statement {
		s := jen.Id(name)
		if c.Generic() {
			s.Types(typeParamIDs(c)...)
		}
		return jen.Id("x").Op("*").Add(s)
	}

	f.Func().Params(recv()).Id("ProxyInstance").Params().Op("*").Qual(interceptPath, "Instance").Block(
		jen.Return(jen.Id("x").Dot("inst")),
	)
	f.Line()

	for _, m := range c.Methods {
		code, err := e.method(c, m, recv())
		if err != nil {
			return fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
		}
		f.Add(code)
		f.Line()
	}

	if c.Generic() {
		e.genericHelpers(f, c, decls)
	}
	return nil
}

func (e *emitter) method(c *Contract, m Method, recv jen.Code) (jen.Code, error) {
	params := make([]jen.Code, len(m.Params))
	args := []jen.Code{jen.Lit(m.Name), jen.Nil()}
	if c.Generic() {
		generics := make([]jen.Code, len(c.TypeParams))
		for i, tp := range c.TypeParams {
			generics[i] = typeFor(jen.Id(tp.Name))
		}
		args[1] = jen.Index().Qual(reflectPath, "Type").Values(generics...)
	}
	for i, t := range m.Params {
		id := jen.Id(fmt.Sprintf("a%d", i))
		if m.Variadic && i == len(m.Params)-1 {
			elem, err := e.typeCode(t.(*types.Slice).Elem())
			if err != nil {
				return nil, err
			}
			params[i] = id.Op("...").Add(elem)
		} else {
			tc, err := e.typeCode(t)
			if err != nil {
				return nil, err
			}
			params[i] = id.Add(tc)
		}
		args = append(args, jen.Id(fmt.Sprintf("a%d", i)))
	}

	results := make([]jen.Code, len(m.Results))
	for i, t := range m.Results {
		tc, err := e.typeCode(t)
		if err != nil {
			return nil, err
		}
		results[i] = tc
	}

	invoke := jen.Id("x").Dot("inst").Dot("Invoke").Call(args...)
	fn := jen.Func().Params(recv).Id(m.Name).Params(params...)
	switch len(results) {
	case 0:
		return fn.Block(invoke), nil
	case 1:
		fn.Add(results[0])
	default:
		fn.Parens(jen.List(results...))
	}

	ret := make([]jen.Code, 0, len(results))
	for i := 0; i < m.ValueResults(); i++ {
		ret = append(ret, jen.Qual(interceptPath, "Out").Index(results[i]).Call(jen.Id("r"), jen.Lit(i)))
	}
	if m.ReturnsErr {
		ret = append(ret, jen.Id("r").Dot("Err").Call())
	}
	return fn.Block(
		jen.Id("r").Op(":=").Add(invoke),
		jen.Return(ret...),
	), nil
}

// genericHelpers emits RegisterXProxy and NewXProxy. Generic contracts are
// registered per instantiation, so they have no init registration.
func (e *emitter) genericHelpers(f *jen.File, c *Contract, decls []jen.Code) {
	ids := typeParamIDs(c)
	register := "Register" + c.Name + "Proxy"

	f.Comment(fmt.Sprintf("%s registers the proxy stub for %s[%s].", register, c.Name, typeParamList(c)))
	f.Func().Id(register).Types(decls...).Params().Block(
		jen.If(jen.Qual(interceptPath, "HasStub").Call(typeFor(contractType(c)))).Block(jen.Return()),
		e.registration(c, ids),
	)
	f.Line()

	newName := "New" + c.Name + "Proxy"
	f.Comment(fmt.Sprintf("%s registers the stub for %s[%s] and creates a proxy.", newName, c.Name, typeParamList(c)))
	f.Func().Id(newName).Types(decls...).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("f").Op("*").Qual(interceptPath, "Factory"),
		jen.Id("target").Add(contractType(c)),
		jen.Id("interceptors").Index().Qual(interceptPath, "Interceptor"),
		jen.Id("opts").Op("...").Qual(interceptPath, "Option"),
	).Parens(jen.List(contractType(c), jen.Error())).Block(
		jen.Id(register).Types(ids...).Call(),
		jen.Return(jen.Qual(interceptPath, "New").Index(contractType(c)).Call(
			jen.Id("ctx"), jen.Id("f"), jen.Id("target"), jen.Id("interceptors"), jen.Id("opts").Op("..."),
		)),
	)
}

func typeParamList(c *Contract) string {
	names := make([]string, len(c.TypeParams))
	for i, tp := range c.TypeParams {
		names[i] = tp.Name
	}
	return strings.Join(names, ", ")
}

// typeCode renders t as seen from inside the generated package.
func (e *emitter) typeCode(t types.Type) (*jen.Statement, error) {
	switch t := t.(type) {
	case *types.Basic:
		return jen.Id(t.Name()), nil
	case *types.Pointer:
		elem, err := e.typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Op("*").Add(elem), nil
	case *types.Slice:
		elem, err := e.typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Index().Add(elem), nil
	case *types.Array:
		elem, err := e.typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Index(jen.Lit(int(t.Len()))).Add(elem), nil
	case *types.Map:
		key, err := e.typeCode(t.Key())
		if err != nil {
			return nil, err
		}
		elem, err := e.typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Map(key).Add(elem), nil
	case *types.Chan:
		elem, err := e.typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		switch t.Dir() {
		case types.SendOnly:
			return jen.Chan().Op("<-").Add(elem), nil
		case types.RecvOnly:
			return jen.Op("<-").Chan().Add(elem), nil
		default:
			return jen.Chan().Add(elem), nil
		}
	case *types.Signature:
		return e.funcType(t)
	case *types.TypeParam:
		return jen.Id(t.Obj().Name()), nil
	case *types.Alias:
		return e.namedCode(t.Obj(), t.TypeArgs())
	case *types.Named:
		return e.namedCode(t.Obj(), t.TypeArgs())
	case *types.Interface:
		if t.Empty() {
			return jen.Any(), nil
		}
		return nil, fmt.Errorf("anonymous interface %s is not supported", t)
	case *types.Struct:
		if t.NumFields() == 0 {
			return jen.Struct(), nil
		}
		return nil, fmt.Errorf("anonymous struct %s is not supported", t)
	default:
		return nil, fmt.Errorf("unsupported type %s", t)
	}
}

func (e *emitter) namedCode(obj *types.TypeName, args *types.TypeList) (*jen.Statement, error) {
	var s *jen.Statement
	switch {
	case obj.Pkg() == nil:
		s = jen.Id(obj.Name())
	case obj.Pkg().Path() == e.pkg.Path:
		s = jen.Id(obj.Name())
	default:
		s = jen.Qual(obj.Pkg().Path(), obj.Name())
	}
	if args.Len() == 0 {
		return s, nil
	}
	codes := make([]jen.Code, args.Len())
	for i := 0; i < args.Len(); i++ {
		c, err := e.typeCode(args.At(i))
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}
	return s.Types(codes...), nil
}

func (e *emitter) funcType(sig *types.Signature) (*jen.Statement, error) {
	params := make([]jen.Code, sig.Params().Len())
	for i := range params {
		t := sig.Params().At(i).Type()
		if sig.Variadic() && i == len(params)-1 {
			elem, err := e.typeCode(t.(*types.Slice).Elem())
			if err != nil {
				return nil, err
			}
			params[i] = jen.Op("...").Add(elem)
			continue
		}
		c, err := e.typeCode(t)
		if err != nil {
			return nil, err
		}
		params[i] = c
	}
	results := make([]jen.Code, sig.Results().Len())
	for i := range results {
		c, err := e.typeCode(sig.Results().At(i).Type())
		if err != nil {
			return nil, err
		}
		results[i] = c
	}
	fn := jen.Func().Params(params...)
	switch len(results) {
	case 0:
	case 1:
		fn.Add(results[0])
	default:
		fn.Parens(jen.List(results...))
	}
	return fn, nil
}
