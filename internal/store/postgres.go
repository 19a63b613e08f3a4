package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentdesk/internal/domain"
)

// Postgres stores documents as JSONB rows behind a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.EnsureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureTables creates the schema if it doesn't exist.
func (p *Postgres) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			seq        BIGSERIAL UNIQUE,
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			seq        BIGSERIAL UNIQUE,
			id         TEXT PRIMARY KEY,
			key_hash   TEXT NOT NULL UNIQUE,
			user_id    TEXT,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_accounts (
			seq BIGSERIAL UNIQUE,
			id  TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id          BIGSERIAL PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL,
			type        TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id   TEXT NOT NULL DEFAULT '',
			actor_id    TEXT NOT NULL,
			payload     JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveTask(ctx context.Context, t domain.Task, evts ...domain.Event) error {
	doc, err := encodeDoc(t)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (id, owner_id, doc, created_at, updated_at)
			VALUES ($1, $2, $3::jsonb, $4, $5)
			ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
			t.ID, t.OwnerID, doc, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		return pgInsertEvents(ctx, tx, evts)
	})
}

func (p *Postgres) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := p.getDoc(ctx, `SELECT doc FROM tasks WHERE id = $1`, id, &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, domain.NotFound("task", id)
	}
	return t, err
}

func (p *Postgres) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT doc FROM tasks WHERE $1 = '' OR owner_id = $1 ORDER BY created_at, seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return collectDocs[domain.Task](rows)
}

func (p *Postgres) CreateKey(ctx context.Context, key domain.Key, user domain.User) error {
	keyDoc, err := encodeDoc(key)
	if err != nil {
		return err
	}
	userDoc, err := encodeDoc(user)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, doc) VALUES ($1, $2::jsonb)`, user.ID, userDoc); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO api_keys (id, key_hash, user_id, doc, created_at) VALUES ($1, $2, NULLIF($3, ''), $4::jsonb, $5)`,
			key.ID, key.KeyHash, key.UserID, keyDoc, key.CreatedAt); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetKey(ctx context.Context, id string) (domain.Key, error) {
	var k domain.Key
	err := p.getDoc(ctx, `SELECT doc FROM api_keys WHERE id = $1`, id, &k)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Key{}, domain.NotFound("key", id)
	}
	return k, err
}

func (p *Postgres) GetKeyByHash(ctx context.Context, hash string) (domain.Key, error) {
	var k domain.Key
	err := p.getDoc(ctx, `SELECT doc FROM api_keys WHERE key_hash = $1`, hash, &k)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Key{}, domain.NotFound("key", "by hash")
	}
	return k, err
}

func (p *Postgres) ListKeys(ctx context.Context) ([]domain.Key, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM api_keys ORDER BY created_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return collectDocs[domain.Key](rows)
}

func (p *Postgres) SaveKey(ctx context.Context, key domain.Key) error {
	doc, err := encodeDoc(key)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `UPDATE api_keys SET doc = $1::jsonb, user_id = NULLIF($2, '') WHERE id = $3`, doc, key.UserID, key.ID)
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("key", key.ID)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := p.getDoc(ctx, `SELECT doc FROM users WHERE id = $1`, id, &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.NotFound("user", id)
	}
	return u, err
}

func (p *Postgres) SaveAccount(ctx context.Context, a domain.AgentAccount) error {
	doc, err := encodeDoc(a)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO agent_accounts (id, doc) VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`, a.ID, doc)
	if err != nil {
		return fmt.Errorf("save agent account: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (domain.AgentAccount, error) {
	var a domain.AgentAccount
	err := p.getDoc(ctx, `SELECT doc FROM agent_accounts WHERE id = $1`, id, &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AgentAccount{}, domain.NotFound("agent account", id)
	}
	return a, err
}

func (p *Postgres) ListAccounts(ctx context.Context) ([]domain.AgentAccount, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM agent_accounts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list agent accounts: %w", err)
	}
	return collectDocs[domain.AgentAccount](rows)
}

func (p *Postgres) AppendEvents(ctx context.Context, evts ...domain.Event) error {
	if len(evts) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return pgInsertEvents(ctx, tx, evts)
	})
}

func pgInsertEvents(ctx context.Context, tx pgx.Tx, evts []domain.Event) error {
	for _, e := range evts {
		payload := e.Payload
		if payload == "" {
			payload = "{}"
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO events (ts, type, entity_kind, entity_id, actor_id, payload)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
			e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, payload); err != nil {
			return fmt.Errorf("insert event %s: %w", e.Type, err)
		}
	}
	return nil
}

func (p *Postgres) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, ts, type, entity_kind, entity_id, actor_id, payload::text
		FROM events WHERE id > $1 ORDER BY id LIMIT $2`, afterID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("events after %d: %w", afterID, err)
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.TS = e.TS.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id)
	return id, err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) getDoc(ctx context.Context, query, id string, dst any) error {
	var raw []byte
	if err := p.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		return err
	}
	return decodeDoc(raw, dst)
}

func collectDocs[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := decodeDoc(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
