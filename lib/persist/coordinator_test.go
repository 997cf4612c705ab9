package persist

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tklessing/restate/lib/backend"
	"github.com/tklessing/restate/lib/backend/memory"
	"github.com/tklessing/restate/lib/migrate"
	"github.com/tklessing/restate/lib/record"
)

// --------------------------------------------------------------------------
// Test fixtures
// --------------------------------------------------------------------------

// counterState is the canonical test container state. Noise is deliberately
// not encoded, so states differing only in Noise serialize identically.
type counterState struct {
	Value int
	Noise int
}

type counterCodec struct{}

func (counterCodec) Encode(s counterState) (record.Record, error) {
	return record.Record{"value": s.Value}, nil
}

func (counterCodec) Decode(rec record.Record) (counterState, error) {
	v, ok := asInt(rec["value"])
	if !ok {
		return counterState{}, fmt.Errorf("record has no usable value field")
	}
	return counterState{Value: v}, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// countingBackend wraps another backend and counts the physical operations
// that reach it.
type countingBackend struct {
	backend.IBackend
	reads  atomic.Int64
	writes atomic.Int64
}

func (cb *countingBackend) Read(ctx context.Context, key string) ([]byte, bool, error) {
	cb.reads.Add(1)
	return cb.IBackend.Read(ctx, key)
}

func (cb *countingBackend) Write(ctx context.Context, key string, value []byte) error {
	cb.writes.Add(1)
	return cb.IBackend.Write(ctx, key, value)
}

// setupBackend installs a fresh counting in-memory backend as the process
// backend and removes it again when the test finishes. Installing it bumps
// the cache epoch, so tests start with an effectively empty cache.
func setupBackend(t *testing.T) *countingBackend {
	t.Helper()
	cb := &countingBackend{IBackend: memory.New()}
	SetBackend(cb)
	t.Cleanup(func() { SetBackend(nil) })
	return cb
}

func seedRecord(t *testing.T, b backend.IBackend, key string, rec record.Record) {
	t.Helper()
	raw, err := record.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, b.Write(context.Background(), key, raw))
}

func readStored(t *testing.T, b backend.IBackend, key string) record.Record {
	t.Helper()
	raw, found, err := b.Read(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "expected stored record under key %q", key)
	rec, err := record.Unmarshal(raw)
	require.NoError(t, err)
	return rec
}

func waitPersisted(t *testing.T, ch <-chan record.Record) record.Record {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for persisted hook")
		return nil
	}
}

// --------------------------------------------------------------------------
// Hydration
// --------------------------------------------------------------------------

func TestHydrateMissReturnsDefault(t *testing.T) {
	setupBackend(t)

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "hydrate-miss"})
	state, ok := c.Hydrate(context.Background())
	assert.False(t, ok)
	assert.Zero(t, state)
}

func TestRoundTrip(t *testing.T) {
	setupBackend(t)
	ctx := context.Background()

	writer := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "round-trip"})
	writer.OnMutate(ctx, counterState{}, counterState{Value: 42})

	reader := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "round-trip"})
	state, ok := reader.Hydrate(ctx)
	require.True(t, ok)
	assert.Equal(t, counterState{Value: 42}, state)
}

func TestIdempotentHydration(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	seedRecord(t, cb, "idempotent", record.Record{"value": 7, migrate.VersionField: 1})

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "idempotent"})

	first, ok := c.Hydrate(ctx)
	require.True(t, ok)
	second, ok := c.Hydrate(ctx)
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, cb.reads.Load(), "second hydrate in the same epoch must be served from cache")
}

func TestDecodeErrorTreatedAsMiss(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()
	require.NoError(t, cb.Write(ctx, "garbage", []byte("not json")))

	var hookErr error
	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:     "garbage",
		OnError: func(err error) { hookErr = err },
	})

	_, ok := c.Hydrate(ctx)
	assert.False(t, ok)

	var perr *Error
	require.ErrorAs(t, hookErr, &perr)
	assert.Equal(t, RetCDecode, perr.Code)
}

// --------------------------------------------------------------------------
// Mutation, debounce and suppression
// --------------------------------------------------------------------------

func TestZeroDebounceWritesSynchronously(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "sync"})
	c.OnMutate(ctx, counterState{}, counterState{Value: 1})

	assert.EqualValues(t, 1, cb.writes.Load())
	stored := readStored(t, cb, "sync")
	assert.True(t, record.Equal(record.Record{"value": 1, migrate.VersionField: 1}, stored))
}

func TestDebounceCoalescing(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	persisted := make(chan record.Record, 1)

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:         "debounce",
		Debounce:    50 * time.Millisecond,
		Clock:       clock,
		OnPersisted: func(_ string, rec record.Record) { persisted <- rec },
	})

	c.OnMutate(ctx, counterState{Value: 0}, counterState{Value: 1})
	c.OnMutate(ctx, counterState{Value: 1}, counterState{Value: 2})
	c.OnMutate(ctx, counterState{Value: 2}, counterState{Value: 3})
	assert.Zero(t, cb.writes.Load(), "no write may happen inside the debounce window")

	clock.Advance(50 * time.Millisecond)
	rec := waitPersisted(t, persisted)

	assert.EqualValues(t, 1, cb.writes.Load(), "a burst must coalesce into one physical write")
	assert.True(t, record.Equal(record.Record{"value": 3, migrate.VersionField: 1}, rec))
	stored := readStored(t, cb, "debounce")
	assert.True(t, record.Equal(record.Record{"value": 3, migrate.VersionField: 1}, stored))
}

func TestDebounceResetsOnEveryMutation(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	persisted := make(chan record.Record, 1)

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:         "debounce-reset",
		Debounce:    50 * time.Millisecond,
		Clock:       clock,
		OnPersisted: func(_ string, rec record.Record) { persisted <- rec },
	})

	c.OnMutate(ctx, counterState{Value: 0}, counterState{Value: 1})
	clock.Advance(30 * time.Millisecond)
	c.OnMutate(ctx, counterState{Value: 1}, counterState{Value: 2})

	// 70ms after the first mutation, but only 40ms after the second: the
	// window restarted, so nothing may have fired yet
	clock.Advance(40 * time.Millisecond)
	assert.Zero(t, cb.writes.Load())

	clock.Advance(10 * time.Millisecond)
	rec := waitPersisted(t, persisted)
	assert.EqualValues(t, 1, cb.writes.Load())
	assert.True(t, record.Equal(record.Record{"value": 2, migrate.VersionField: 1}, rec))
}

func TestEqualitySuppression(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "suppress"})

	c.OnMutate(ctx, counterState{}, counterState{Value: 5})
	require.EqualValues(t, 1, cb.writes.Load())

	// the state changed structurally, but its encoded record is identical
	c.OnMutate(ctx, counterState{Value: 5}, counterState{Value: 5, Noise: 1})
	assert.EqualValues(t, 1, cb.writes.Load(), "a record equal to the cached one must not be written again")
}

func TestUnchangedStateIsIgnored(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "unchanged"})
	c.OnMutate(ctx, counterState{Value: 5}, counterState{Value: 5})
	assert.Zero(t, cb.writes.Load())
}

func TestCustomChangePredicate(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key: "predicate",
		// only even values are worth persisting
		Changed: func(prev, next counterState) bool { return next.Value%2 == 0 },
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: 3})
	assert.Zero(t, cb.writes.Load())

	c.OnMutate(ctx, counterState{Value: 3}, counterState{Value: 4})
	assert.EqualValues(t, 1, cb.writes.Load())
}

func TestEncoderOptOut(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	var hookCalled bool
	c := NewCoordinator[counterState](optOutCodec{}, &Options[counterState]{
		Key:     "opt-out",
		OnError: func(error) { hookCalled = true },
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: -1})
	assert.Zero(t, cb.writes.Load())
	assert.False(t, hookCalled, "an encoder opt-out is a silent no-op, not an error")
}

// optOutCodec refuses to persist negative values.
type optOutCodec struct{}

func (optOutCodec) Encode(s counterState) (record.Record, error) {
	if s.Value < 0 {
		return nil, nil
	}
	return record.Record{"value": s.Value}, nil
}

func (optOutCodec) Decode(rec record.Record) (counterState, error) {
	return counterCodec{}.Decode(rec)
}

func TestEncodeErrorDropsWrite(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	var hookErr error
	c := NewCoordinator[counterState](failingCodec{}, &Options[counterState]{
		Key:     "encode-error",
		OnError: func(err error) { hookErr = err },
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: 1})
	assert.Zero(t, cb.writes.Load())

	var perr *Error
	require.ErrorAs(t, hookErr, &perr)
	assert.Equal(t, RetCEncode, perr.Code)
}

type failingCodec struct{}

func (failingCodec) Encode(counterState) (record.Record, error) {
	return nil, errors.New("broken encoder")
}

func (failingCodec) Decode(record.Record) (counterState, error) {
	return counterState{}, errors.New("broken decoder")
}

// --------------------------------------------------------------------------
// Key derivation
// --------------------------------------------------------------------------

func TestKeyIsolation(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	a := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "counter", Suffix: "a"})
	b := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "counter", Suffix: "b"})

	a.OnMutate(ctx, counterState{Value: 0}, counterState{Value: 1})
	b.OnMutate(ctx, counterState{Value: 0}, counterState{Value: 1})
	b.OnMutate(ctx, counterState{Value: 1}, counterState{Value: 2})

	assert.Equal(t, "counter:a", a.Key())
	assert.Equal(t, "counter:b", b.Key())

	storedA := readStored(t, cb, "counter:a")
	storedB := readStored(t, cb, "counter:b")
	assert.True(t, record.Equal(record.Record{"value": 1, migrate.VersionField: 1}, storedA))
	assert.True(t, record.Equal(record.Record{"value": 2, migrate.VersionField: 1}, storedB))
}

func TestKeyDefaultsToStateTypeName(t *testing.T) {
	c := NewCoordinator[counterState](counterCodec{}, nil)
	assert.Equal(t, "counterState", c.Key())

	suffixed := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Suffix: "s1"})
	assert.Equal(t, "counterState:s1", suffixed.Key())
}

// --------------------------------------------------------------------------
// Disposal
// --------------------------------------------------------------------------

func TestFlushOnDisposal(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:      "dispose-flush",
		Debounce: time.Second,
		Clock:    clock,
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: 42})
	require.Zero(t, cb.writes.Load(), "the debounce window has not elapsed yet")

	c.Dispose(ctx)
	assert.EqualValues(t, 1, cb.writes.Load(), "disposal must flush the pending write before returning")

	reader := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "dispose-flush"})
	state, ok := reader.Hydrate(ctx)
	require.True(t, ok)
	assert.Equal(t, counterState{Value: 42}, state)
}

func TestDisposeIsIdempotentAndFinal(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	var hookErr error
	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:     "dispose-final",
		OnError: func(err error) { hookErr = err },
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: 1})
	c.Dispose(ctx)
	c.Dispose(ctx)
	assert.EqualValues(t, 1, cb.writes.Load())

	c.OnMutate(ctx, counterState{Value: 1}, counterState{Value: 2})
	assert.EqualValues(t, 1, cb.writes.Load(), "a disposed coordinator accepts no further writes")

	var perr *Error
	require.ErrorAs(t, hookErr, &perr)
	assert.Equal(t, RetCDisposed, perr.Code)
}

func TestDisposeWithoutPendingWritesNothing(t *testing.T) {
	cb := setupBackend(t)

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "dispose-empty"})
	c.Dispose(context.Background())
	assert.Zero(t, cb.writes.Load())
}

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

func TestMigrationGating(t *testing.T) {
	ctx := context.Background()

	var calls int
	var gotVersion int
	opts := func() *Options[counterState] {
		return &Options[counterState]{
			Key:     "migration",
			Version: 2,
			Migrate: func(rec record.Record, storedVersion int) record.Record {
				calls++
				gotVersion = storedVersion
				// v1 stored the value under "count"
				if v, ok := rec["count"]; ok {
					return record.Record{"value": v}
				}
				return rec
			},
		}
	}

	// a version-1 record is migrated exactly once
	cb := setupBackend(t)
	seedRecord(t, cb, "migration", record.Record{"count": 7, migrate.VersionField: 1})

	state, ok := NewCoordinator[counterState](counterCodec{}, opts()).Hydrate(ctx)
	require.True(t, ok)
	assert.Equal(t, counterState{Value: 7}, state)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, gotVersion)

	// a record already at the current version passes through untouched
	calls = 0
	cb = setupBackend(t)
	seedRecord(t, cb, "migration", record.Record{"value": 9, migrate.VersionField: 2})

	state, ok = NewCoordinator[counterState](counterCodec{}, opts()).Hydrate(ctx)
	require.True(t, ok)
	assert.Equal(t, counterState{Value: 9}, state)
	assert.Zero(t, calls, "no migration call for a record already at the current version")
}

func TestMigratedFormIsCached(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	var calls int
	opts := &Options[counterState]{
		Key:     "migration-cache",
		Version: 2,
		Migrate: func(rec record.Record, _ int) record.Record {
			calls++
			return rec
		},
	}
	seedRecord(t, cb, "migration-cache", record.Record{"value": 3, migrate.VersionField: 1})

	c := NewCoordinator[counterState](counterCodec{}, opts)
	_, ok := c.Hydrate(ctx)
	require.True(t, ok)
	_, ok = c.Hydrate(ctx)
	require.True(t, ok)

	assert.Equal(t, 1, calls, "the cache holds the post-migration form, so a second hydrate must not migrate again")
	assert.EqualValues(t, 1, cb.reads.Load())
}

func TestFailedMigrationIsMiss(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	var hookErr error
	seedRecord(t, cb, "migration-fail", record.Record{"value": 1, migrate.VersionField: 1})

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:     "migration-fail",
		Version: 2,
		Migrate: func(record.Record, int) record.Record { return nil },
		OnError: func(err error) { hookErr = err },
	})

	_, ok := c.Hydrate(ctx)
	assert.False(t, ok)

	var perr *Error
	require.ErrorAs(t, hookErr, &perr)
	assert.Equal(t, RetCMigrate, perr.Code)
}

// --------------------------------------------------------------------------
// Clear
// --------------------------------------------------------------------------

func TestClearSemantics(t *testing.T) {
	cb := setupBackend(t)
	ctx := context.Background()

	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "clear"})
	c.OnMutate(ctx, counterState{}, counterState{Value: 9})
	require.EqualValues(t, 1, cb.writes.Load())

	c.Clear(ctx)

	_, found, err := cb.Read(ctx, "clear")
	require.NoError(t, err)
	assert.False(t, found, "clear must delete the durable record")

	fresh := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{Key: "clear"})
	_, ok := fresh.Hydrate(ctx)
	assert.False(t, ok, "after clear, hydration falls back to the default state")
}

// --------------------------------------------------------------------------
// Failure modes
// --------------------------------------------------------------------------

func TestOptimisticCacheAfterFailedWrite(t *testing.T) {
	setupBackend(t)
	SetBackend(&writeFailBackend{IBackend: memory.New()})
	ctx := context.Background()

	var hookErr error
	c := NewCoordinator[counterState](counterCodec{}, &Options[counterState]{
		Key:     "optimistic",
		OnError: func(err error) { hookErr = err },
	})

	c.OnMutate(ctx, counterState{}, counterState{Value: 42})

	var perr *Error
	require.ErrorAs(t, hookErr, &perr)
	assert.Equal(t, RetCBackendIO, perr.Code)

	// within the same epoch the cache still serves the attempted value,
	// even though it never became durable
	state, ok := c.Hydrate(ctx)
	require.True(t, ok)
	assert.Equal(t, counterState{Value: 42}, state)
}

type writeFailBackend struct {
	backend.IBackend
}

func (b *writeFailBackend) Write(context.Context, string, []byte) error {
	return errors.New("disk full")
}
