package retrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
)

// SQLiteStore keeps items in a single table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates) the database at path. Use ":memory:" for
// an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("retry store: sqlite file is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &errspkg.PersistenceError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, &errspkg.PersistenceError{Op: "open", Err: fmt.Errorf("initialize schema: %w", err)}
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS retry_items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		body BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`)
	return err
}

func (s *SQLiteStore) PutMessage(ctx context.Context, env *envelope.Envelope, node, service string) (string, error) {
	key := newMessageKey()
	data, err := encodeMessage(env, node, service)
	if err != nil {
		return "", &errspkg.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	return key, s.insert(ctx, key, KindMessage, data)
}

func (s *SQLiteStore) PutTracking(ctx context.Context, rec envelope.TrackingRecord) (string, error) {
	key := newTrackingKey(rec.InterchangeID)
	data, err := encodeTracking(rec)
	if err != nil {
		return "", &errspkg.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	return key, s.insert(ctx, key, KindTracking, data)
}

func (s *SQLiteStore) insert(ctx context.Context, key string, kind Kind, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO retry_items (key, kind, body, created_at) VALUES (?, ?, ?, ?)`,
		key, string(kind), data, time.Now().UTC())
	if err != nil {
		return &errspkg.PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

// Keys returns keys in insertion order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM retry_items ORDER BY seq`)
	if err != nil {
		return nil, &errspkg.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &errspkg.PersistenceError{Op: "list", Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &errspkg.PersistenceError{Op: "list", Err: err}
	}
	return keys, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (Item, error) {
	var (
		kind string
		body []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT kind, body FROM retry_items WHERE key = ?`, key).Scan(&kind, &body)
	if err != nil {
		return Item{}, &errspkg.PersistenceError{Op: "load", Key: key, Err: err}
	}
	return decodeItem(key, Kind(kind), body)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM retry_items WHERE key = ?`, key); err != nil {
		return &errspkg.PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
