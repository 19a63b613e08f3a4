package store

import (
	"context"
	"fmt"

	"agentdesk/internal/db"
)

type Options struct {
	Driver string
	// DSN is the postgres connection string or, for sqlite, an optional file path.
	DSN       string
	Workspace string
}

// Open returns the Store selected by opts.Driver. An empty driver means sqlite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case "", DriverSQLite:
		return OpenSQLite(ctx, db.Config{Workspace: opts.Workspace, Path: opts.DSN})
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return OpenPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
