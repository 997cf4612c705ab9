// Package cache provides the process-wide record cache that shields
// containers from backend latency: hydration is answered from memory when
// possible, and the latest value stays visible while an asynchronous
// write is still in flight.
//
// Entries are namespaced by an epoch token. Swapping the active storage
// backend bumps the epoch, which drops every prior entry in a single
// pointer-sized map operation - no iteration, no caller-visible error.
// The cache never serves an entry from a stale epoch.
package cache
