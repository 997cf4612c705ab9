// Package backend defines the contract between the persistence
// coordinator and durable key-value storage. The coordinator only ever
// talks to the IBackend interface; what sits behind it - an in-memory
// map, a SQLite file, a remote store - is the host's choice.
//
// Key Components:
//
//   - IBackend Interface: Read, Write, Delete, Clear and Close over
//     opaque byte values. A missing key on Read is not an error.
//     Implementations must serialize concurrent writes to the same key;
//     the coordinator supersedes pending writes per container instance
//     but does not order writes across callers.
//
// Implementations:
//
//	Two adapters ship with this module:
//
//	- Memory (backend/memory): a concurrent-map backend without
//	  durability across restarts, the default choice for tests.
//
//	- SQLite (backend/sqlite): a single-table database via the pure-Go
//	  modernc.org/sqlite driver, for state that must survive restarts.
//
//	The backend/testing package provides a conformance suite that every
//	adapter is expected to pass.
package backend
