package threadstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore persists local threads so ListMessages survives a relay restart.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite thread store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile builds a DSN for a database file.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite thread store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_thread ON messages(thread_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite thread store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) CreateThread(ctx context.Context, threadID string, createdAtMs int64) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("sqlite thread store: threadID is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads(thread_id, created_at_ms) VALUES (?, ?)`, threadID, createdAtMs)
	if err != nil {
		return errors.Wrapf(err, "sqlite thread store: create thread %s", threadID)
	}
	return nil
}

func (s *SQLiteStore) HasThread(ctx context.Context, threadID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM threads WHERE thread_id = ?`, threadID).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "sqlite thread store: has thread")
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return errors.Wrap(err, "sqlite thread store")
	}
	ok, err := s.HasThread(ctx, msg.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrThreadNotFound, "sqlite thread store: %s", msg.ThreadID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages(message_id, thread_id, role, text, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Text, msg.CreatedAtMs)
	if err != nil {
		return errors.Wrap(err, "sqlite thread store: append message")
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	ok, err := s.HasThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrThreadNotFound, "sqlite thread store: %s", threadID)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, thread_id, role, text, created_at_ms
		FROM messages
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite thread store: list messages")
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Text, &m.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite thread store: scan message")
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite thread store: list messages")
	}
	return out, nil
}
