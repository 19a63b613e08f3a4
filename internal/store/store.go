// Package store provides the key-addressable persistence behind the engine.
// Every driver stores whole documents: a saved task replaces the previous
// snapshot in one step, so readers never observe a half-applied mutation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentdesk/internal/domain"
)

// ErrNotFound is returned (wrapped) for missing tasks, keys, users and
// accounts.
var ErrNotFound = domain.ErrNotFound

// Store is the persistence contract used by the engine and the key directory.
type Store interface {
	// SaveTask inserts or replaces t and appends evts atomically with it.
	SaveTask(ctx context.Context, t domain.Task, evts ...domain.Event) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	// ListTasks returns tasks in creation order. An empty ownerID lists all.
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)

	// CreateKey stores a new key together with its user.
	CreateKey(ctx context.Context, key domain.Key, user domain.User) error
	GetKey(ctx context.Context, id string) (domain.Key, error)
	GetKeyByHash(ctx context.Context, hash string) (domain.Key, error)
	ListKeys(ctx context.Context) ([]domain.Key, error)
	SaveKey(ctx context.Context, key domain.Key) error
	GetUser(ctx context.Context, id string) (domain.User, error)

	SaveAccount(ctx context.Context, a domain.AgentAccount) error
	GetAccount(ctx context.Context, id string) (domain.AgentAccount, error)
	ListAccounts(ctx context.Context) ([]domain.AgentAccount, error)

	AppendEvents(ctx context.Context, evts ...domain.Event) error
	// EventsAfter returns up to limit events with id > afterID, oldest first.
	EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func encodeDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}

func decodeDoc(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// tsLayout is fixed width so that text comparison follows time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
