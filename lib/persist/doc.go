// Package persist implements the persistence coordinator: the component a
// reactive state container attaches to in order to transparently restore
// its state at creation time and transparently persist it on every
// effective mutation, through a pluggable storage backend.
//
// The package focuses on:
//   - Hydration: cache-first restore of previously persisted state,
//     including schema migration of records stored at older versions
//   - Write scheduling: trailing-edge resetting debounce, so a burst of
//     rapid mutations coalesces into a single physical write carrying the
//     last value of the burst
//   - Write suppression: deep, order-insensitive comparison of the encoded
//     record against the last cached record, skipping writes that would
//     store an identical value
//   - Teardown safety: disposal cancels the debounce timer and
//     synchronously flushes a still-pending write before returning, so no
//     debounced mutation is ever silently dropped
//
// Key Components:
//
//   - Coordinator: One instance per state container. Generic over the
//     container's ISerializable capability rather than a concrete state
//     type, so any container that can encode itself to a record.Record
//     and back can be persisted.
//
//   - ISerializable: The capability interface a container implements.
//     Encode may return a nil record to opt out of persisting a
//     particular state; Decode failures are treated as a load miss, never
//     as a crash.
//
//   - Global activation surface: SetBackend installs the process-wide
//     active backend.IBackend and bumps the shared cache epoch, which
//     invalidates every cached record from the previous backend in O(1).
//     ActiveBackend fails fast with a typed error while no backend is set.
//
//   - Error System: Every failure on the hydrate/mutate/dispose paths is
//     wrapped in an Error carrying a RetCode plus the operation and
//     storage key involved, and funneled through the per-coordinator
//     error hook. No error propagates out of these paths; a host can log,
//     alert or ignore as it sees fit.
//
// Scheduling notes:
//
//	Re-arming the debounce never extends a running timer in place: each
//	mutation stops the previous timer and schedules a new one under a
//	fresh generation token, keeping cancellation semantics unambiguous.
//	Because every mutation restarts the window from scratch, sustained
//	rapid mutation delays the physical write indefinitely - there is no
//	maximum-wait bound. Hosts with such workloads should size the
//	debounce accordingly.
//
//	A write that reaches the backend but fails durably still updates the
//	in-memory cache first (optimistic), so hydration within the same
//	epoch returns the attempted value; it is simply not guaranteed to
//	survive a process restart.
//
// Thread Safety:
//
//	All Coordinator methods are safe for concurrent use. The flush path
//	runs under the coordinator's mutex, which is what lets Dispose block
//	until an in-flight timer flush has completed.
package persist
