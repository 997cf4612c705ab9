// Package sqlite implements the backend.IBackend interface on top of a
// single-table SQLite database, using the pure-Go modernc.org/sqlite
// driver (no cgo). Records written through this backend survive process
// restarts; use ":memory:" as the path for an ephemeral database.
package sqlite
