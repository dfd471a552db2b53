// Package policy evaluates Rego policies against proxied method calls.
//
// An Engine compiles a set of Rego modules once, prepares one query per
// decision entrypoint and caches decisions in a bounded LRU keyed by the
// call's contract, method, principal and arguments. The authorize
// interceptor in pkg/interceptors turns each call into an Input and blocks
// the call when the decision says so.
package policy
