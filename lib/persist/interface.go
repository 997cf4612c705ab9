package persist

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tklessing/restate/lib/keys"
	"github.com/tklessing/restate/lib/migrate"
	"github.com/tklessing/restate/lib/record"
)

// --------------------------------------------------------------------------
// Serialization Capability
// --------------------------------------------------------------------------

// ISerializable is the capability a state container implements to be
// persisted. The coordinator is generic over this capability, not over a
// concrete container type.
type ISerializable[S any] interface {
	// Encode turns a state value into its record form. Returning a nil
	// record (with a nil error) means this state is intentionally not
	// persisted; the coordinator skips the write silently.
	Encode(state S) (record.Record, error)

	// Decode reconstructs a state value from its record form. The record
	// never contains the reserved schema-version field. A decode error is
	// reported through the error hook and the load is treated as a miss.
	Decode(rec record.Record) (S, error)
}

// --------------------------------------------------------------------------
// Coordinator Options
// --------------------------------------------------------------------------

// Options configures a Coordinator during initialization.
type Options[S any] struct {
	// Key is the base identity of the storage key. Empty means the name of
	// the state type S, derived once via reflection.
	Key string

	// Suffix disambiguates multiple instances of the same container type
	// (per user, per session, ...). Empty means the key equals the base.
	Suffix string

	// Separator joins Key and Suffix. Empty means keys.DefaultSeparator.
	Separator string

	// Version is the container's current schema version (default 1).
	Version int

	// Migrate upgrades records stored at versions older than Version. See
	// migrate.Func for the exact contract.
	Migrate migrate.Func

	// Debounce is the quiet period a burst of mutations must sustain
	// before the physical write happens. Every mutation restarts the
	// window from scratch. Zero means synchronous, immediate flushes with
	// no timer involved.
	Debounce time.Duration

	// Changed is the change-detection predicate deciding whether a
	// mutation is worth persisting at all. Nil means structural
	// inequality of the two states.
	Changed func(prev, next S) bool

	// OnPersisted is invoked with the key and record after a successful
	// durable write. Optional.
	OnPersisted func(key string, rec record.Record)

	// OnError receives every failure from the hydrate/mutate/dispose
	// paths; no error ever propagates out of them. Nil means the failure
	// is logged through slog.
	OnError func(err error)

	// Clock drives the debounce timer. Nil means the wall clock; tests
	// install a fake.
	Clock clockwork.Clock
}

// DefaultOptions returns the default coordinator options.
func DefaultOptions[S any]() *Options[S] {
	return &Options[S]{
		Separator: keys.DefaultSeparator,
		Version:   migrate.DefaultVersion,
		Debounce:  0,
	}
}
