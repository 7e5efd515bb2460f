// Package dispatch contains the order fulfillment dispatch domain: the
// provider driver port, integration configuration, package routing, the
// per-order dispatch state machine and the balance/catalog snapshot types.
//
// Concrete provider adapters live in internal/infrastructure/providers and
// persistence implementations in internal/infrastructure/persistence,
// following the Ports & Adapters pattern used across this codebase.
package dispatch
