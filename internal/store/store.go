// Package store is the shared, subscribable key-value store the duel
// protocol coordinates through. Paths are "/"-separated; each path holds a
// flat Record and a read of a path returns every record at or below it.
package store

import (
	"context"
	"errors"
)

var (
	ErrInvalidPath = errors.New("store: invalid path")
	ErrClosed      = errors.New("store: closed")
	ErrNotNumeric  = errors.New("store: field is not numeric")
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's own clock, in Unix
// milliseconds, when written as a field value.
var ServerTimestamp any = serverTimestamp{}

// Store is implemented by Memory and Redis.
type Store interface {
	// Get returns the current records at or below path.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Update merges fields into the record at path. A nil value removes the
	// field; a record left without fields is removed.
	Update(ctx context.Context, path string, fields Record) error

	// Increment atomically adds delta to a numeric field, creating it at 0,
	// and returns the new value.
	Increment(ctx context.Context, path, field string, delta int64) (int64, error)

	// Delete removes the record at path and every record below it.
	Delete(ctx context.Context, path string) error

	// Subscribe calls fn with the current snapshot of path and again after
	// every change at, above or below it. Calls for one subscription are
	// serial and never observe writes out of order. The returned function
	// (or cancelling ctx) ends the subscription.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)

	Close() error
}
