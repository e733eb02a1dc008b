// Package storage persists the server peer's durable state: approved
// user accounts and the committed message history of every channel.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// ChatDB manages the server's sqlite database
type ChatDB struct {
	db *sql.DB
}

// NewChatDB opens (or creates) the database at dbPath
func NewChatDB(dbPath string) (*ChatDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	cdb := &ChatDB{db: db}
	if err := cdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return cdb, nil
}

// initSchema creates database tables
func (db *ChatDB) initSchema() error {
	schema := `
	-- Approved user accounts
	CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		address TEXT NOT NULL,
		approved_at INTEGER NOT NULL
	);

	-- Committed channel messages (timestamps in unix milliseconds)
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, sent_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_users_address ON users(address);
	`

	if _, err := db.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}

	return nil
}

// Close closes the database connection
func (db *ChatDB) Close() error {
	return db.db.Close()
}
