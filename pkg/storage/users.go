package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/peerchat/peerchat-node/pkg/protocol"
)

// StoredUser is one approved account row
type StoredUser struct {
	User       protocol.User
	Address    protocol.Address
	ApprovedAt time.Time
}

// SaveUser inserts a newly approved account
func (db *ChatDB) SaveUser(user protocol.User, addr protocol.Address) error {
	query := `
		INSERT INTO users (email, display_name, password_hash, address, approved_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.db.Exec(
		query,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		string(addr),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %v", err)
	}

	return nil
}

// GetUserByEmail retrieves an account by email
func (db *ChatDB) GetUserByEmail(email string) (*StoredUser, error) {
	query := `
		SELECT email, display_name, password_hash, address, approved_at
		FROM users WHERE email = ?
	`

	var u StoredUser
	var addr string
	var approvedAt int64
	err := db.db.QueryRow(query, email).Scan(
		&u.User.Email,
		&u.User.DisplayName,
		&u.User.PasswordHash,
		&addr,
		&approvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %v", err)
	}

	u.Address = protocol.Address(addr)
	u.ApprovedAt = time.UnixMilli(approvedAt)
	return &u, nil
}

// EmailExists reports whether an account already owns email
func (db *ChatDB) EmailExists(email string) (bool, error) {
	var count int
	err := db.db.QueryRow("SELECT COUNT(*) FROM users WHERE email = ?", email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %v", err)
	}
	return count > 0, nil
}

// ListUsers returns all approved accounts
func (db *ChatDB) ListUsers() ([]StoredUser, error) {
	query := `
		SELECT email, display_name, password_hash, address, approved_at
		FROM users ORDER BY approved_at
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}
	defer rows.Close()

	var users []StoredUser
	for rows.Next() {
		var u StoredUser
		var addr string
		var approvedAt int64
		if err := rows.Scan(&u.User.Email, &u.User.DisplayName, &u.User.PasswordHash, &addr, &approvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %v", err)
		}
		u.Address = protocol.Address(addr)
		u.ApprovedAt = time.UnixMilli(approvedAt)
		users = append(users, u)
	}

	return users, rows.Err()
}
