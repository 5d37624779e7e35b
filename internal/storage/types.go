package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("storage closed")

	// ErrSkipWrite may be returned by an UpdateFunc to leave the document untouched.
	ErrSkipWrite = errors.New("storage: skip write")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON documents next to Path (<dir>/<base>.<key>.json)
//   - "sqlite": SQLite database file at Path
//
// An empty Driver defaults to "file".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// UpdateFunc receives the current document body (ok=false when absent) and
// returns the replacement body.
type UpdateFunc func(cur []byte, ok bool) ([]byte, error)

// Repository is the persistence API used by the ledgers and stores.
//
// Writes are atomic: a concurrent reader observes either the previous or the
// new body of a document, never a partial one.
type Repository interface {
	Load(ctx context.Context, key string) (body []byte, ok bool, err error)
	Save(ctx context.Context, key string, body []byte) error
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
