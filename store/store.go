// Package store persists users, channels, messages, reactions and workspaces
// in SQLite. All timestamps are stored in UTC.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors mapped to HTTP statuses by the api package.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrSelfDM    = errors.New("cannot open a dm with oneself")
)

// GeneralChannel is seeded at startup and cannot be left.
const GeneralChannel = "general"

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path, applies the
// schema and seeds the general channel.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping backs the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	password    TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT 'user',
	status      TEXT NOT NULL DEFAULT 'offline',
	last_active DATETIME,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	type         TEXT NOT NULL CHECK(type IN ('public', 'private', 'dm')),
	created_by   TEXT REFERENCES users(id),
	workspace_id TEXT,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id TEXT NOT NULL REFERENCES channels(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	joined_at  DATETIME NOT NULL,
	last_read  DATETIME NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	thread_id  TEXT,
	created_at DATETIME NOT NULL,
	edited_at  DATETIME,
	is_edited  INTEGER NOT NULL DEFAULT 0,
	deleted_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL REFERENCES messages(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	emoji      TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id, emoji)
);

CREATE TABLE IF NOT EXISTS workspaces (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS workspace_members (
	workspace_id TEXT NOT NULL REFERENCES workspaces(id),
	user_id      TEXT NOT NULL REFERENCES users(id),
	added_at     DATETIME NOT NULL,
	PRIMARY KEY (workspace_id, user_id)
);
`

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// Seed the general channel.
	var id string
	err := s.db.QueryRow(`SELECT id FROM channels WHERE name = ?`, GeneralChannel).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(
			`INSERT INTO channels (id, name, type, created_by, created_at) VALUES (?, ?, 'public', NULL, ?)`,
			GeneralChannel, GeneralChannel, now())
	}
	if err != nil {
		return fmt.Errorf("seed general channel: %w", err)
	}
	return nil
}

func newID() string { return uuid.NewString() }

func now() time.Time { return time.Now().UTC() }
