// Package memory implements the backend.IBackend interface with a
// concurrent in-memory map. Values do not survive a process restart;
// within a process the backend behaves exactly like a durable one, which
// makes it the default choice for tests and for hosts that only want
// hydration semantics.
package memory
