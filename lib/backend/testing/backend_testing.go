package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tklessing/restate/lib/backend"
)

// BackendFactory is a function that creates a fresh instance of an
// IBackend implementation. Every subtest receives its own instance.
type BackendFactory func(t *testing.T) backend.IBackend

// RunBackendTests runs the conformance suite for an IBackend
// implementation. Every adapter in this module is expected to pass it.
func RunBackendTests(t *testing.T, name string, factory BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("WriteRead", func(t *testing.T) {
			testWriteRead(t, factory(t))
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory(t))
		})

		t.Run("ReadMissing", func(t *testing.T) {
			testReadMissing(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory(t))
		})

		t.Run("ValueIsolation", func(t *testing.T) {
			testValueIsolation(t, factory(t))
		})

		t.Run("ConcurrentSameKey", func(t *testing.T) {
			testConcurrentSameKey(t, factory(t))
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testWriteRead(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	key := "test-key"
	value := []byte(`{"value":1}`)

	if err := b.Write(ctx, key, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, found, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !found {
		t.Fatalf("Expected key %s to exist after Write", key)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Expected value %s, got %s", value, got)
	}
}

func testOverwrite(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	key := "test-key"
	first := []byte(`{"value":1}`)
	second := []byte(`{"value":2}`)

	if err := b.Write(ctx, key, first); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := b.Write(ctx, key, second); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	got, found, err := b.Read(ctx, key)
	if err != nil || !found {
		t.Fatalf("Read after overwrite failed: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, second) {
		t.Errorf("Expected value %s, got %s", second, got)
	}
}

func testReadMissing(t *testing.T, b backend.IBackend) {
	defer b.Close()

	value, found, err := b.Read(context.Background(), "nonexistent-key")
	if err != nil {
		t.Errorf("Reading a missing key must not error, got: %v", err)
	}
	if found {
		t.Errorf("Expected missing key to report found=false")
	}
	if value != nil {
		t.Errorf("Expected nil value for missing key, got %s", value)
	}
}

func testDelete(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	key := "test-key"
	if err := b.Write(ctx, key, []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, found, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read after delete failed: %v", err)
	}
	if found {
		t.Errorf("Expected key %s to be gone after Delete", key)
	}

	// deleting a missing key is a no-op
	if err := b.Delete(ctx, "nonexistent-key"); err != nil {
		t.Errorf("Deleting a missing key must not error, got: %v", err)
	}
}

func testClear(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := b.Write(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		_, found, err := b.Read(ctx, fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatalf("Read after clear failed: %v", err)
		}
		if found {
			t.Errorf("Expected key-%d to be gone after Clear", i)
		}
	}
}

func testValueIsolation(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	key := "test-key"
	value := []byte("original")
	if err := b.Write(ctx, key, value); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// mutating the caller's slice after Write must not change the store
	value[0] = 'X'

	got, _, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Errorf("Stored value was corrupted by caller mutation: %s", got)
	}

	// mutating the returned slice must not change the store either
	got[0] = 'Y'
	again, _, err := b.Read(ctx, key)
	if err != nil {
		t.Fatalf("Second read failed: %v", err)
	}
	if !bytes.Equal(again, []byte("original")) {
		t.Errorf("Stored value was corrupted by reader mutation: %s", again)
	}
}

func testConcurrentSameKey(t *testing.T, b backend.IBackend) {
	defer b.Close()
	ctx := context.Background()

	const writers = 16
	key := "contended-key"

	written := make(map[string]bool, writers)
	for i := 0; i < writers; i++ {
		written[fmt.Sprintf("value-%d", i)] = true
	}

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			if err := b.Write(ctx, key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
				t.Errorf("Concurrent write failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, found, err := b.Read(ctx, key)
	if err != nil || !found {
		t.Fatalf("Read after concurrent writes failed: found=%v err=%v", found, err)
	}
	if !written[string(got)] {
		t.Errorf("Stored value %q is not one of the written values (torn write?)", got)
	}
}

func testClose(t *testing.T, b backend.IBackend) {
	ctx := context.Background()

	if err := b.Write(ctx, "test-key", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Write(ctx, "test-key", []byte("y")); err == nil {
		t.Errorf("Expected Write after Close to fail")
	}
}
