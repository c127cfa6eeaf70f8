// Package sqlite registers a broker backed by a single SQLite file. Several
// processes on one host can share the file, so a node can exchange messages
// with a co-located gateway without a network broker.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/transport"
)

const TransportName = "sqlite"

const (
	DefaultFile         = "edgeflow_queue.db"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLockTimeout  = 30 * time.Second
	// MaxBackoff caps the redelivery delay after repeated nacks.
	MaxBackoff = 30 * time.Second
)

var ErrClosed = errors.New("sqlite: transport is closed")

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build opens the configured queue file.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

type Config struct {
	// FilePath is the database file. ":memory:" works for tests.
	FilePath     string
	PollInterval time.Duration
	// LockTimeout is how long a delivered message stays invisible to other
	// consumers before it is offered again.
	LockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFile
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

// Transport is both publisher and subscriber.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

var (
	_ message.Publisher           = (*Transport)(nil)
	_ message.Subscriber          = (*Transport)(nil)
	_ transport.QueueIntrospector = (*Transport)(nil)
)

func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.FilePath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	t := &Transport{
		db:      db,
		config:  cfg,
		logger:  logger,
		closing: make(chan struct{}),
	}
	if err := t.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return t, nil
}

func (t *Transport) initSchema() error {
	_, err := t.db.Exec(`
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		available_at TIMESTAMP NOT NULL,
		locked_until TIMESTAMP,
		attempts INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic, available_at);
	`)
	return err
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

// Publish stores all messages in one transaction.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
		// payload is NOT NULL; a nil slice binds as NULL
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (uuid, topic, payload, metadata, available_at) VALUES (?, ?, ?, ?, ?)`,
			msg.UUID, topic, payload, string(metadata), now,
		); err != nil {
			return fmt.Errorf("sqlite: insert: %w", err)
		}
	}
	return tx.Commit()
}

// Subscribe polls topic until ctx is done or the transport closes. Messages
// are delivered one at a time and wait for ack or nack.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.poll(ctx, topic, out)
	return out, nil
}

func (t *Transport) poll(ctx context.Context, topic string, out chan *message.Message) {
	defer t.wg.Done()
	defer close(out)

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closing:
			return
		case <-ticker.C:
			// Drain everything available before waiting again.
			for t.deliverNext(ctx, topic, out) {
			}
		}
	}
}

type row struct {
	id       int64
	uuid     string
	payload  []byte
	metadata string
	attempts int
}

func (t *Transport) claim(ctx context.Context, topic string) (*row, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var r row
	err = tx.QueryRowContext(ctx, `
		SELECT id, uuid, payload, metadata, attempts FROM messages
		WHERE topic = ? AND available_at <= ? AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at, id
		LIMIT 1`, topic, now, now).Scan(&r.id, &r.uuid, &r.payload, &r.metadata, &r.attempts)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET locked_until = ? WHERE id = ?`, now.Add(t.config.LockTimeout), r.id); err != nil {
		return nil, err
	}
	return &r, tx.Commit()
}

// deliverNext reports whether a message was handed out.
func (t *Transport) deliverNext(ctx context.Context, topic string, out chan *message.Message) bool {
	r, err := t.claim(ctx, topic)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
			t.logger.Error("Failed to claim message", err, watermill.LogFields{"topic": topic})
		}
		return false
	}

	msg := message.NewMessage(r.uuid, r.payload)
	if r.metadata != "" {
		if err := jsoncodec.Unmarshal([]byte(r.metadata), &msg.Metadata); err != nil {
			t.logger.Error("Failed to decode metadata", err, watermill.LogFields{"uuid": r.uuid})
		}
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		t.exec("unlock", `UPDATE messages SET locked_until = NULL WHERE id = ?`, r.id)
		return false
	case <-t.closing:
		t.exec("unlock", `UPDATE messages SET locked_until = NULL WHERE id = ?`, r.id)
		return false
	}

	select {
	case <-msg.Acked():
		t.exec("ack", `DELETE FROM messages WHERE id = ?`, r.id)
		return true
	case <-msg.Nacked():
		retryAt := time.Now().UTC().Add(Backoff(r.attempts + 1))
		t.exec("nack", `UPDATE messages SET attempts = attempts + 1, locked_until = NULL, available_at = ? WHERE id = ?`, retryAt, r.id)
		return true
	case <-ctx.Done():
	case <-t.closing:
	}
	t.exec("unlock", `UPDATE messages SET locked_until = NULL WHERE id = ?`, r.id)
	return false
}

// Backoff is the redelivery delay after the given number of nacks.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := time.Duration(attempts) * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

func (t *Transport) exec(op, query string, args ...any) {
	if _, err := t.db.Exec(query, args...); err != nil {
		t.logger.Error("Failed to "+op+" message", err, nil)
	}
}

// GetPendingCount returns how many messages wait on topic, including locked
// and delayed ones.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	var count int64
	err := t.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE topic = ?`, topic).Scan(&count)
	return count, err
}

// Close stops all pollers and closes the database. Unacknowledged messages
// stay in the file.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		t.wg.Wait()
		err = t.db.Close()
	})
	return err
}
