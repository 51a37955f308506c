// Package energygrid is the data-access layer for the EnergyGridCSR backend:
// a client that mediates between callers and an HTTP/JSON API whose response
// wrapping, field naming and failure modes are inconsistent. Every call is
// presented through one uniform contract: a normalized (payload, pagination,
// error) triple, typed request state, and transparent resilience.
//
//   - Response normalization (envelope unwrapping, pagination alias folding)
//   - Bidirectional snake_case/camelCase key transformation
//   - TTL caching with stale-while-revalidate and a best-effort durable mirror
//   - Bounded retry with exponential backoff for transient failures
//   - Bearer token lifecycle (validate, attach, refresh, fail closed)
//   - Fixed-interval polling for asynchronous report generation
//   - Optimistic list updates with full revert
//
// Layering, outer to inner: Requester (state machine) -> Cache -> rate
// limiter -> session token attach -> retry executor -> http.Client. The
// response path runs normalization and server-to-client key rewriting before
// anything is cached or published, so callers only ever see the canonical
// shape.
//
// The library avoids opinionated logging: provide a Logger (via
// WithSimpleLogger or the zap adapter) and enable debug flags selectively
// with WithDebug or WithDebugConfig.
package energygrid
