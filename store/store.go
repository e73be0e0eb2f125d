package store

import (
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was removed.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change describes a mutation made by another view of the store.
type Change struct {
	// Key is the mutated key.
	Key string

	// Value is the new value. Empty for OpDelete.
	Value string

	// Operation indicates the type of change.
	Operation Operation

	// Origin identifies the view that made the change.
	Origin string

	// Revision is a monotonic version number.
	Revision uint64

	// Modified is when the change was made.
	Modified time.Time
}

// Store is one tab's view of the persisted session store.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) (string, error)

	// Set stores a value.
	Set(key, value string) error

	// Remove deletes a key.
	// Returns nil if the key does not exist.
	Remove(key string) error

	// Keys returns all keys matching a pattern.
	// Pattern supports * wildcard at the end (e.g., "admin*").
	Keys(pattern string) ([]string, error)

	// Watch delivers changes made by other views to keys matching pattern.
	// The channel is closed when the view closes.
	Watch(pattern string) (<-chan *Change, error)

	// Origin returns the identifier stamped on this view's writes.
	Origin() string

	// Close releases the view. The shared backend stays open.
	Close() error
}

// Has reports whether key holds a non-empty value.
func Has(s Store, key string) bool {
	v, err := s.Get(key)
	return err == nil && v != ""
}

// Lookup returns the value for key, or "" when absent or unreadable.
func Lookup(s Store, key string) string {
	v, err := s.Get(key)
	if err != nil {
		return ""
	}
	return v
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " *>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "admin*" matches "adminToken").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}
