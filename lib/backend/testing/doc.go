// Package testing provides a standardised conformance suite for
// implementations of the backend.IBackend interface.
//
// Example usage:
//
//	func Test(t *testing.T) {
//		backendtesting.RunBackendTests(t, "MyBackend", func(t *testing.T) backend.IBackend {
//			return NewMyBackend()
//		})
//	}
package testing
