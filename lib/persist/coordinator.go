package persist

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tklessing/restate/lib/keys"
	"github.com/tklessing/restate/lib/migrate"
	"github.com/tklessing/restate/lib/record"
)

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// Coordinator attaches persistence behavior to a single state container
// instance: it restores the container's state at creation time (Hydrate),
// persists it on every effective mutation (OnMutate) with a trailing-edge
// resetting debounce, and guarantees that a still-debounced write is
// flushed before teardown completes (Dispose).
//
// Thread-safety: all methods are safe for concurrent use. The flush path
// runs under the coordinator's mutex, which is what lets Dispose block
// until an in-flight timer flush has completed.
type Coordinator[S any] struct {
	ser    ISerializable[S]
	opts   Options[S]
	engine migrate.Engine
	clock  clockwork.Clock

	keyOnce sync.Once
	key     string

	mu       sync.Mutex
	disposed bool
	pending  record.Record   // at most one outstanding record, superseded by each mutation
	timer    clockwork.Timer // armed debounce timer, nil when idle
	timerGen uint64          // cancellation token: a fired timer only acts if its gen is still current
}

// NewCoordinator creates a coordinator for one container instance. The
// container supplies its codec via ser; opts may be nil for defaults.
func NewCoordinator[S any](ser ISerializable[S], opts *Options[S]) *Coordinator[S] {
	if opts == nil {
		opts = DefaultOptions[S]()
	}
	o := *opts
	if o.Separator == "" {
		o.Separator = keys.DefaultSeparator
	}
	if o.Version < 1 {
		o.Version = migrate.DefaultVersion
	}
	clk := o.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	return &Coordinator[S]{
		ser:    ser,
		opts:   o,
		engine: migrate.NewEngine(o.Version, o.Migrate),
		clock:  clk,
	}
}

// Key returns the storage key for this coordinator's container instance.
// It is derived lazily on first access (falling back to the state type's
// name when no base identity is configured) and stable afterward.
func (c *Coordinator[S]) Key() string {
	c.keyOnce.Do(func() {
		base := c.opts.Key
		if base == "" {
			base = stateTypeName[S]()
		}
		c.key = keys.Derive(base, c.opts.Suffix, c.opts.Separator)
	})
	return c.key
}

func stateTypeName[S any]() string {
	t := reflect.TypeOf((*S)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

// --------------------------------------------------------------------------
// Hydration
// --------------------------------------------------------------------------

// Hydrate restores the container's persisted state. The boolean reports
// whether a usable persisted state was found; false means the container
// should fall back to its own default initial state.
//
// Hydration is cache-first: a second call in the same epoch without an
// intervening mutation is answered from memory and issues no backend
// read. On a cache miss the record is read from the backend, upgraded to
// the current schema version, cached in its post-migration form (so the
// next hydrate is cheap and already migrated) and decoded.
//
// Hydrate never returns an error: every failure (backend I/O, decode,
// migration) is routed to the error hook and treated as "no persisted
// state".
func (c *Coordinator[S]) Hydrate(ctx context.Context) (S, bool) {
	var zero S
	metricHydrations.Inc()
	key := c.Key()

	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		c.report(NewError(RetCDisposed, "hydrate", key, "coordinator is disposed"))
		return zero, false
	}

	// cache hit: migration already happened when the entry was populated
	if rec, ok := processCache.Get(key); ok {
		metricCacheHits.Inc()
		state, err := c.ser.Decode(migrate.Strip(rec))
		if err != nil {
			c.report(WrapError(RetCDecode, "hydrate", key, err))
			return zero, false
		}
		return state, true
	}

	b, err := ActiveBackend()
	if err != nil {
		c.report(err)
		return zero, false
	}

	metricBackendReads.Inc()
	raw, found, err := b.Read(ctx, key)
	if err != nil {
		c.report(WrapError(RetCBackendIO, "read", key, err))
		return zero, false
	}
	if !found {
		return zero, false
	}

	rec, err := record.Unmarshal(raw)
	if err != nil {
		c.report(WrapError(RetCDecode, "hydrate", key, err))
		return zero, false
	}

	stored := migrate.StoredVersion(rec)
	upgraded, ok := c.engine.Upgrade(rec)
	if !ok {
		c.report(NewError(RetCMigrate, "hydrate", key,
			fmt.Sprintf("migration from version %d to %d produced no record", stored, c.engine.Version())))
		return zero, false
	}
	if stored < c.engine.Version() {
		metricMigrations.Inc()
	}

	processCache.Put(key, upgraded)

	state, err := c.ser.Decode(migrate.Strip(upgraded))
	if err != nil {
		c.report(WrapError(RetCDecode, "hydrate", key, err))
		return zero, false
	}
	return state, true
}

// --------------------------------------------------------------------------
// Mutation Interception
// --------------------------------------------------------------------------

// OnMutate is the container's state-change interception point. It decides
// whether the new state needs to be persisted and, if so, arms (or
// re-arms) the debounce timer with the new pending record.
//
// The write is skipped entirely when the change predicate rejects the
// transition, when the encoder opts out by returning a nil record, or
// when the encoded record deep-equals the last cached record for this
// key (e.g. after a round trip that reconstructed an equal value).
//
// Each accepted mutation supersedes the previous pending record and
// restarts the debounce window from scratch, so a burst of rapid
// mutations results in a single physical write carrying the last value,
// issued once the burst has been quiet for the configured duration. Note
// that sustained rapid mutation therefore delays the physical write
// indefinitely; there is no maximum-wait bound. A zero debounce duration
// flushes synchronously before OnMutate returns.
func (c *Coordinator[S]) OnMutate(ctx context.Context, prev, next S) {
	key := c.Key()

	if c.opts.Changed != nil {
		if !c.opts.Changed(prev, next) {
			return
		}
	} else if reflect.DeepEqual(prev, next) {
		return
	}

	rec, err := c.ser.Encode(next)
	if err != nil {
		c.report(WrapError(RetCEncode, "mutate", key, err))
		return
	}
	if rec == nil {
		// container opted out of persisting this particular state
		return
	}

	tagged := c.engine.Tag(rec.Clone())

	if cached, ok := processCache.Get(key); ok && record.Equal(cached, tagged) {
		metricSuppressed.Inc()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		c.report(NewError(RetCDisposed, "mutate", key, "coordinator is disposed"))
		return
	}

	if c.opts.Debounce <= 0 {
		c.flushLocked(ctx, tagged)
		return
	}

	c.pending = tagged
	c.timerGen++
	gen := c.timerGen
	if c.timer != nil {
		c.timer.Stop()
		metricDebounceResets.Inc()
	}
	c.timer = c.clock.AfterFunc(c.opts.Debounce, func() {
		c.timerFired(gen)
	})
}

// timerFired is the debounce timer callback. The generation token makes
// cancellation unambiguous: a timer that was superseded or stopped after
// its function was already scheduled finds a newer gen and does nothing.
func (c *Coordinator[S]) timerFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.timerGen || c.pending == nil {
		return
	}
	rec := c.pending
	c.pending = nil
	c.timer = nil
	c.flushLocked(context.Background(), rec)
}

// flushLocked performs the physical write: cache first (optimistic, so the
// next hydrate in this epoch sees the value even if the durable write
// fails - accepted limitation: such a value is not durable across process
// restart), then the backend, then the persisted hook. Callers hold c.mu.
func (c *Coordinator[S]) flushLocked(ctx context.Context, rec record.Record) {
	key := c.Key()
	processCache.Put(key, rec)

	raw, err := record.Marshal(rec)
	if err != nil {
		c.report(WrapError(RetCEncode, "flush", key, err))
		return
	}

	b, err := ActiveBackend()
	if err != nil {
		c.report(err)
		return
	}

	metricBackendWrites.Inc()
	if err := b.Write(ctx, key, raw); err != nil {
		c.report(WrapError(RetCBackendIO, "write", key, err))
		return
	}

	if c.opts.OnPersisted != nil {
		c.opts.OnPersisted(key, rec.Clone())
	}
}

// --------------------------------------------------------------------------
// Disposal and Clearing
// --------------------------------------------------------------------------

// Dispose tears the coordinator down: it cancels any armed debounce timer
// and synchronously flushes a still-pending record before returning, so
// teardown never silently drops a debounced write that had not yet fired.
// After Dispose no further operations are accepted. Dispose is idempotent.
func (c *Coordinator[S]) Dispose(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pending != nil {
		rec := c.pending
		c.pending = nil
		c.flushLocked(ctx, rec)
	}
}

// Clear removes this container's cache entry and issues a backend delete.
// It deliberately does not cancel an independently pending debounced
// write: sequencing an explicit clear against in-flight mutations is the
// caller's responsibility.
func (c *Coordinator[S]) Clear(ctx context.Context) {
	key := c.Key()
	processCache.Remove(key)

	b, err := ActiveBackend()
	if err != nil {
		c.report(err)
		return
	}
	if err := b.Delete(ctx, key); err != nil {
		c.report(WrapError(RetCBackendIO, "delete", key, err))
	}
}

// --------------------------------------------------------------------------
// Error Reporting
// --------------------------------------------------------------------------

// report funnels a failure through the error hook. Without a hook the
// failure is logged, never raised.
func (c *Coordinator[S]) report(err error) {
	metricErrors.Inc()
	if c.opts.OnError != nil {
		c.opts.OnError(err)
		return
	}
	slog.Error("state persistence failure", "error", err)
}
