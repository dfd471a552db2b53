// Package interceptors provides ready-made intercept.Interceptor
// implementations for cross-cutting concerns: call logging, tracing,
// Prometheus metrics, OPA authorization, rate limiting, circuit breaking,
// retries and timeouts.
//
// Interceptors key their per-method state by "Contract.Method", for example
// "OrderService.PlaceOrder". Build assembles a chain from configuration in
// the order given by config.InterceptorsConfig.ChainOrder.
package interceptors
