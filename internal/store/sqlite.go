package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentdesk/internal/db"
	"agentdesk/internal/domain"
	"agentdesk/internal/migrate"
)

// SQLite stores documents in a modernc.org/sqlite database.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) and migrates the database described
// by cfg.
func OpenSQLite(ctx context.Context, cfg db.Config) (*SQLite, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLite{DB: conn}, nil
}

func (s *SQLite) SaveTask(ctx context.Context, t domain.Task, evts ...domain.Event) error {
	doc, err := encodeDoc(t)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id, owner_id, doc, created_at, updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, doc=excluded.doc, updated_at=excluded.updated_at`,
		t.ID, t.OwnerID, doc, formatTS(t.CreatedAt), formatTS(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	if err := insertEvents(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id=?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.NotFound("task", id)
	}
	if err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	return t, decodeDoc([]byte(doc), &t)
}

func (s *SQLite) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	query := `SELECT doc FROM tasks`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, rowid`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t domain.Task
		if err := decodeDoc([]byte(doc), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateKey(ctx context.Context, key domain.Key, user domain.User) error {
	keyDoc, err := encodeDoc(key)
	if err != nil {
		return err
	}
	userDoc, err := encodeDoc(user)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO users(id, doc) VALUES (?,?)`, user.ID, userDoc); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO api_keys(id, key_hash, user_id, doc, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.KeyHash, nullable(key.UserID), keyDoc, formatTS(key.CreatedAt)); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) GetKey(ctx context.Context, id string) (domain.Key, error) {
	return s.scanKey(s.DB.QueryRowContext(ctx, `SELECT doc FROM api_keys WHERE id=?`, id), id)
}

func (s *SQLite) GetKeyByHash(ctx context.Context, hash string) (domain.Key, error) {
	return s.scanKey(s.DB.QueryRowContext(ctx, `SELECT doc FROM api_keys WHERE key_hash=? LIMIT 1`, hash), "by hash")
}

func (s *SQLite) scanKey(row *sql.Row, id string) (domain.Key, error) {
	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Key{}, domain.NotFound("key", id)
	}
	if err != nil {
		return domain.Key{}, err
	}
	var k domain.Key
	return k, decodeDoc([]byte(doc), &k)
}

func (s *SQLite) ListKeys(ctx context.Context) ([]domain.Key, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc FROM api_keys ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Key
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var k domain.Key
		if err := decodeDoc([]byte(doc), &k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveKey(ctx context.Context, key domain.Key) error {
	doc, err := encodeDoc(key)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET doc=?, user_id=? WHERE id=?`, doc, nullable(key.UserID), key.ID)
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound("key", key.ID)
	}
	return nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (domain.User, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc FROM users WHERE id=?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.NotFound("user", id)
	}
	if err != nil {
		return domain.User{}, err
	}
	var u domain.User
	return u, decodeDoc([]byte(doc), &u)
}

func (s *SQLite) SaveAccount(ctx context.Context, a domain.AgentAccount) error {
	doc, err := encodeDoc(a)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO agent_accounts(id, doc) VALUES (?,?) ON CONFLICT(id) DO UPDATE SET doc=excluded.doc`, a.ID, doc)
	if err != nil {
		return fmt.Errorf("save agent account: %w", err)
	}
	return nil
}

func (s *SQLite) GetAccount(ctx context.Context, id string) (domain.AgentAccount, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, `SELECT doc FROM agent_accounts WHERE id=?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentAccount{}, domain.NotFound("agent account", id)
	}
	if err != nil {
		return domain.AgentAccount{}, err
	}
	var a domain.AgentAccount
	return a, decodeDoc([]byte(doc), &a)
}

func (s *SQLite) ListAccounts(ctx context.Context) ([]domain.AgentAccount, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT doc FROM agent_accounts ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AgentAccount
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a domain.AgentAccount
		if err := decodeDoc([]byte(doc), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendEvents(ctx context.Context, evts ...domain.Event) error {
	if len(evts) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertEvents(ctx, tx, evts); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvents(ctx context.Context, tx *sql.Tx, evts []domain.Event) error {
	for _, e := range evts {
		payload := e.Payload
		if payload == "" {
			payload = "{}"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
			formatTS(e.TS), e.Type, e.EntityKind, nullable(e.EntityID), e.ActorID, payload); err != nil {
			return fmt.Errorf("insert event %s: %w", e.Type, err)
		}
	}
	return nil
}

func (s *SQLite) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, type, entity_kind, COALESCE(entity_id,''), actor_id, payload_json
FROM events WHERE id > ? ORDER BY id LIMIT ?`, afterID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.TS, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %d timestamp: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func (s *SQLite) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }
func (s *SQLite) Close() error                   { return s.DB.Close() }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
