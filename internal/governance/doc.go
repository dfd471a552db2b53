// Package governance holds the runtime safety controls applied to proxied
// calls: per-method rate limiting, circuit breaking, retries with
// exponential backoff, and timeout enforcement.
//
// The primitives are keyed by a method key such as "OrderService.PlaceOrder"
// and know nothing about the interception engine; the interceptors in
// pkg/interceptors adapt them to the pipeline.
package governance
