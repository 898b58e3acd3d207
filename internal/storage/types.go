package storage

import (
	"context"
	"errors"
	"time"

	"specsync/internal/spec"
)

var (
	ErrDisabled       = errors.New("storage disabled")
	ErrResultNotFound = errors.New("result not found")
)

// DefaultChannel is the notification channel written by the postgres
// trigger and listened on by the postgres change feed.
const DefaultChannel = "watch__spec_update"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (Path)
//   - "postgres": PostgreSQL (DSN)
//   - "memory": in-process
//
// An empty driver means "memory".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int           // postgres only; 0 means pgxpool default
	Channel     string        // postgres only; "" means DefaultChannel
}

// Store is the persistence API used by the registry, executor and listener.
type Store interface {
	// AllSpecs returns every loadable spec. Rows that fail to load are
	// skipped with a warning.
	AllSpecs(ctx context.Context) ([]*spec.ImplSpec, error)
	// Spec returns spec.ErrSpecNotFound when no row exists.
	Spec(ctx context.Context, id int) (*spec.ImplSpec, error)
	// JobNameFor returns the mnemonic for id, falling back to the
	// tombstone of a deleted spec.
	JobNameFor(ctx context.Context, id int) (string, error)
	SaveResult(ctx context.Context, v *spec.ImplValue) error
	// LatestResult returns ErrResultNotFound when nothing was saved for id.
	LatestResult(ctx context.Context, id int) (*spec.ImplValue, error)
	Close() error
}

// Outbox is implemented by stores that record change payloads in-band.
type Outbox interface {
	// DrainChanges removes and returns up to limit pending payloads in
	// commit order. limit <= 0 means all.
	DrainChanges(ctx context.Context, limit int) ([]string, error)
}
