// ABOUTME: Backend selection for history stores from configuration values
// ABOUTME: Maps backend names to constructors and validates required settings

package history

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string // sqlite and bolt
	DSN         string // postgres
	MaxMessages int
	Logger      *slog.Logger
}

// Open builds the store named by opts.Backend. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(opts.MaxMessages), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("history.path is required for the sqlite backend")
		}
		return NewSQLiteStore(opts.Path, opts.MaxMessages, opts.Logger)
	case BackendBolt:
		if opts.Path == "" {
			return nil, fmt.Errorf("history.path is required for the bolt backend")
		}
		return NewBoltStore(opts.Path, opts.MaxMessages, opts.Logger)
	case BackendPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("history.dsn is required for the postgres backend")
		}
		return NewPostgresStore(ctx, opts.DSN, opts.MaxMessages, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown history backend %q", opts.Backend)
	}
}
