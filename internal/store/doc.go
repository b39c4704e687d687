// Package store provides SQLite-backed storage for the case runtime.
//
// The store holds four kinds of records:
//   - Case definitions and their extension elements
//   - Event subscriptions, the interest of a definition or a waiting plan
//     item in an event type
//   - Case instances, pending until the runtime initializes them
//   - Plan item instances, the wait states subscriptions resume
//
// # Units of work
//
// Every read and write goes through Store.Execute, which runs a function
// against one transaction and commits only when it returns nil. Callers
// that need several statements to be atomic put them in one Execute call.
//
// # Deterministic results
//
// List queries order by seq ASC, id ASC COLLATE BINARY. Sequence numbers
// come from the runtime's logical clock, never from wall time.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
