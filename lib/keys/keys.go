// Package keys derives the storage keys under which state records are
// persisted. Keys are plain, predictable strings (base plus optional
// suffix) so that external tooling inspecting the raw store can map an
// entry back to the container it belongs to.
package keys

// DefaultSeparator joins the base identity and the suffix when the caller
// does not configure a separator of its own.
const DefaultSeparator = ":"

// Derive computes the storage key for a container instance. The base
// identity names the container type, the suffix disambiguates multiple
// instances of that type (per user, per session, ...).
//
// An empty suffix yields the base unchanged. An empty separator falls back
// to DefaultSeparator. The function is pure and performs no I/O.
func Derive(base, suffix, separator string) string {
	if suffix == "" {
		return base
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return base + separator + suffix
}
