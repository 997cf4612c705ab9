package migrate

import (
	"encoding/json"

	"github.com/tklessing/restate/lib/record"
)

// --------------------------------------------------------------------------
// Schema Version Tagging
// --------------------------------------------------------------------------

// VersionField is the reserved record key holding the integer schema
// version. It is injected by the coordinator on the way out and stripped
// again before any record reaches a container's decoder or migration
// function - a container's own codec never sees or produces it.
const VersionField = "__version"

// DefaultVersion is assumed for records stored before versioning existed,
// i.e. records without a VersionField.
const DefaultVersion = 1

// Func upgrades a record stored at an older schema version. It receives
// the record (with the version field already stripped) together with the
// version it was stored at, and must return a record at the *current*
// version - the engine performs no multi-hop chaining, so a container
// spanning several versions implements the staircase inside its Func.
//
// Returning nil signals that the record cannot be upgraded; the load is
// then treated as a miss and the container falls back to its default
// state.
type Func func(rec record.Record, storedVersion int) record.Record

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine tags outgoing records with the container's current schema
// version and upgrades incoming records stored at older versions.
type Engine struct {
	version int
	migrate Func
}

// NewEngine creates an engine for the given current version. Versions
// below 1 are clamped to DefaultVersion. fn may be nil for containers that
// never changed shape.
func NewEngine(version int, fn Func) Engine {
	if version < 1 {
		version = DefaultVersion
	}
	return Engine{version: version, migrate: fn}
}

// Version returns the current schema version the engine tags with.
func (e Engine) Version() int {
	return e.version
}

// Tag injects the current schema version into rec, overwriting a value an
// encoder may have smuggled in under the reserved key. The record is
// modified in place and returned for chaining.
func (e Engine) Tag(rec record.Record) record.Record {
	if rec == nil {
		return nil
	}
	rec[VersionField] = e.version
	return rec
}

// Upgrade brings a loaded record up to the current schema version.
//
//   - stored == current: the record passes through unchanged, no
//     migration call is made.
//   - stored < current: the migration Func runs exactly once with the
//     stripped record and the stored version; its result is re-tagged at
//     the current version. A nil result (or a missing Func) yields
//     (nil, false): the caller treats the load as a miss.
//   - stored > current: passed through unchanged, same as ==. Forward
//     compatibility is deliberately left to the container author.
func (e Engine) Upgrade(rec record.Record) (record.Record, bool) {
	if rec == nil {
		return nil, false
	}

	stored := StoredVersion(rec)
	if stored >= e.version {
		return rec, true
	}

	if e.migrate == nil {
		return nil, false
	}
	upgraded := e.migrate(Strip(rec), stored)
	if upgraded == nil {
		return nil, false
	}
	return e.Tag(upgraded.Clone()), true
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// StoredVersion reads the schema version a record was stored at,
// defaulting to DefaultVersion when the field is absent or unreadable
// (back compatibility with pre-versioning records).
func StoredVersion(rec record.Record) int {
	raw, ok := rec[VersionField]
	if !ok {
		return DefaultVersion
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// JSON numbers decode as float64
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return DefaultVersion
}

// Strip returns a copy of rec without the reserved version field. This is
// the shape handed to decoders and migration functions.
func Strip(rec record.Record) record.Record {
	if rec == nil {
		return nil
	}
	out := rec.Clone()
	delete(out, VersionField)
	return out
}
