// Package scope tracks per-request execution state for deferred jobs.
// Each logical request owns a Request: an ordered registry of the batches
// opened during the request, a LIFO stack of the jobs currently executing,
// and at most one root execution context. Locals keys Requests by an
// externally supplied request identifier so concurrent requests never
// observe each other's state.
package scope
