package persist

import (
	"sync"

	"github.com/tklessing/restate/lib/backend"
	"github.com/tklessing/restate/lib/cache"
)

// --------------------------------------------------------------------------
// Global Activation Surface
// --------------------------------------------------------------------------

// The active backend is a single process-wide slot. Installing a new
// backend bumps the shared cache's epoch, which invalidates every cached
// record from the previous backend's generation in O(1). An in-flight
// asynchronous write issued before the swap may still land in the old
// backend after the swap is observed; this is a documented hazard of
// swapping, not something the slot locks against.

var (
	globalMu      sync.RWMutex
	globalBackend backend.IBackend

	// processCache is shared by every coordinator in the process.
	processCache = cache.New()
)

// SetBackend installs b as the process-wide active storage backend and
// bumps the cache epoch. Passing nil deactivates persistence (useful in
// tests); subsequent backend accesses then fail with RetCNotInitialized.
//
// Closing a previously active backend is the host's responsibility - the
// slot does not own backend lifecycles.
func SetBackend(b backend.IBackend) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalBackend = b
	processCache.BumpEpoch()
}

// ActiveBackend returns the active backend, or a RetCNotInitialized error
// when no backend has been set. It never returns a nil backend with a nil
// error.
func ActiveBackend() (backend.IBackend, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalBackend == nil {
		return nil, NewError(RetCNotInitialized, "backend", "", "no active storage backend, call persist.SetBackend first")
	}
	return globalBackend, nil
}

// CacheEpoch returns the current epoch of the shared record cache. Mostly
// useful for tests and diagnostics.
func CacheEpoch() uint64 {
	return processCache.Epoch()
}
