// Package gen emits compile-time proxy stubs for interface contracts.
//
// Contracts are read with golang.org/x/tools/go/packages and the stubs are
// rendered with jennifer. A stub forwards every member to its
// intercept.Instance and registers itself with intercept.RegisterStub from
// an init function, so proxies of the contract can be created at run time.
package gen

import (
	"go/types"
)

// Package is a loaded Go package and the contracts requested from it.
type Package struct {
	Path string
	Name string
	// Dir is the directory holding the package's files.
	Dir string

	Contracts []*Contract
	types     *types.Package
}

// Contract is an interface type proxies are generated for.
type Contract struct {
	Name       string
	TypeParams []TypeParam
	Methods    []Method

	// Interfaces are additional interfaces the stub also implements.
	Interfaces []*Contract
}

// Generic reports whether the contract has type parameters.
func (c *Contract) Generic() bool {
	return len(c.TypeParams) > 0
}

// TypeParam is a type parameter of a generic contract.
type TypeParam struct {
	Name       string
	Constraint types.Type
}

// Method is one member of a contract.
type Method struct {
	Name     string
	Params   []types.Type
	Variadic bool
	Results  []types.Type
	// ReturnsErr is set when the last result is error.
	ReturnsErr bool

	sig *types.Signature
}

// ValueResults is the number of results before the trailing error.
func (m Method) ValueResults() int {
	if m.ReturnsErr {
		return len(m.Results) - 1
	}
	return len(m.Results)
}
