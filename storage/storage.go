// Package storage defines the key-value capability the auth slot is
// persisted through. The browser-style storage area is never referenced
// as an ambient global; a Backend is injected explicitly so tests and
// no-persistence environments can substitute an in-memory implementation.
package storage

import "errors"

var (
	// ErrQuotaExceeded is returned by Set when the underlying storage
	// rejected the write due to capacity. Recoverable only by the user
	// freeing space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable is returned when the underlying storage is disabled
	// or inaccessible. The subsystem degrades to no persistence.
	ErrUnavailable = errors.New("storage unavailable")
)

// Backend is a minimal key-value capability. Implementations must make Set
// indivisible at single-key granularity: a failed Set leaves the prior
// value, including an absent one, completely untouched.
type Backend interface {
	// Get returns the value stored at key. ok is false if key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Set stores value at key, replacing any prior value in one operation.
	Set(key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}
