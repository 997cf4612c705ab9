package memory

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tklessing/restate/lib/backend"
)

var errClosed = errors.New("memory backend: already closed")

// backendImpl keeps all values in a concurrent map. The map's per-key
// atomic operations provide the write serialization the IBackend contract
// demands.
type backendImpl struct {
	data   *xsync.MapOf[string, []byte]
	closed atomic.Bool
}

// New creates an empty in-memory backend. It is the backend of choice for
// tests and for hosts that want hydration semantics without durability
// across process restarts.
func New() backend.IBackend {
	return &backendImpl{
		data: xsync.NewMapOf[string, []byte](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see backend/interface.go)
// --------------------------------------------------------------------------

func (b *backendImpl) Read(_ context.Context, key string) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, errClosed
	}
	value, ok := b.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	// copy out so callers can't corrupt the stored value
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (b *backendImpl) Write(_ context.Context, key string, value []byte) error {
	if b.closed.Load() {
		return errClosed
	}
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	b.data.Store(key, valueCopy)
	return nil
}

func (b *backendImpl) Delete(_ context.Context, key string) error {
	if b.closed.Load() {
		return errClosed
	}
	b.data.Delete(key)
	return nil
}

func (b *backendImpl) Clear(_ context.Context) error {
	if b.closed.Load() {
		return errClosed
	}
	b.data.Clear()
	return nil
}

func (b *backendImpl) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return errClosed
	}
	b.data.Clear()
	return nil
}
