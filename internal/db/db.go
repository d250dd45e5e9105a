package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrDuplicateRequest = errors.New("Request already sent")
	ErrAlreadyConnected = errors.New("Already connected")
	ErrSelfRequest      = errors.New("Cannot connect with yourself")
	ErrNotConnected     = errors.New("Users are not connected")
)

type DB struct {
	*sqlx.DB
	now func() time.Time
}

// NewDB opens the store for the given driver ("sqlite3" or "pgx") and makes
// sure the schema exists.
func NewDB(driver, dsn string) (*DB, error) {
	if driver == "sqlite3" && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, errors.Wrap(err, "error creating database directory")
		}
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	if driver == "sqlite3" {
		// sqlite serialises writers anyway and :memory: databases are per connection.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		return nil, errors.Wrap(err, "error connecting to the database")
	}

	if err := initSchema(conn); err != nil {
		return nil, errors.Wrap(err, "error initializing schema")
	}

	return &DB{DB: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func initSchema(db *sqlx.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			class TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			roll_number TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			picture TEXT NOT NULL DEFAULT '',
			is_approved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS connection_requests (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL REFERENCES users(id),
			recipient_id TEXT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_pair ON connection_requests (requester_id, recipient_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL REFERENCES users(id),
			receiver_id TEXT NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			type TEXT NOT NULL,
			audio_url TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, receiver_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			type TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return errors.Wrap(err, "failed to execute schema query")
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}
