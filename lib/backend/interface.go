package backend

import "context"

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBackend is the contract every durable key-value store must satisfy to
// serve as a persistence target. Values are opaque byte slices (the
// coordinator hands in marshalled records); the backend never inspects
// them.
//
// Implementations must internally serialize concurrent writes to the same
// key - the coordinator supersedes pending writes per container instance
// but does not order writes across callers.
type IBackend interface {
	// Read returns the stored value for a key. A missing key is not an
	// error: it is reported as found=false with a nil error. Only genuine
	// I/O failures return a non-nil error.
	Read(ctx context.Context, key string) (value []byte, found bool, err error)

	// Write inserts or overwrites the value for a key.
	Write(ctx context.Context, key string, value []byte) error

	// Delete removes a key-value pair. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys ever written through this backend instance.
	Clear(ctx context.Context) error

	// Close releases underlying resources. No further calls are valid on
	// the backend afterward.
	Close() error
}
