// Package intercept creates proxies that route calls on a contract through
// an ordered chain of interceptors before optionally forwarding them to a
// target.
//
// A contract is either an interface or an extensible struct. Interface
// proxies are backed by stubs generated with proxygen, which register
// themselves with RegisterStub; each stub method forwards to
// Instance.Invoke. Struct proxies need no generated code: every exported
// func field of the struct is replaced by a closure that dispatches into
// the pipeline.
//
// Each call builds an Invocation. Interceptors inspect and rewrite its
// arguments and results and call Proceed to continue; the last Proceed
// calls the target. Pointer and slice parameters are exposed as *Ref
// values that expire when the call returns, and any writes through them
// are copied back into the caller's storage.
//
// Synthesized types are cached per Shape, so proxies for the same contract,
// interface set, mixins and options share one method table.
package intercept
