package storage

import (
	"fmt"
	"time"

	"github.com/peerchat/peerchat-node/pkg/protocol"
)

// ===== MESSAGE ARCHIVE =====

// SaveMessage appends one committed message to the archive
func (db *ChatDB) SaveMessage(channel protocol.ChannelName, msg protocol.Message) error {
	query := `
		INSERT INTO messages (channel, author, content, sent_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := db.db.Exec(query, string(channel), msg.Author, msg.Content, msg.SentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}

	return nil
}

// ChannelHistory returns up to limit messages from a channel, newest
// first (the same ordering the in-memory channel keeps). limit <= 0
// returns everything.
func (db *ChatDB) ChannelHistory(channel protocol.ChannelName, limit int) ([]protocol.Message, error) {
	query := `
		SELECT author, content, sent_at
		FROM messages WHERE channel = ?
		ORDER BY sent_at DESC, id DESC
	`
	args := []interface{}{string(channel)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		var msg protocol.Message
		var sentAt int64
		if err := rows.Scan(&msg.Author, &msg.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %v", err)
		}
		msg.SentAt = time.UnixMilli(sentAt)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MessageCount returns the archived message count for a channel
func (db *ChatDB) MessageCount(channel protocol.ChannelName) (int, error) {
	var count int
	err := db.db.QueryRow("SELECT COUNT(*) FROM messages WHERE channel = ?", string(channel)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %v", err)
	}
	return count, nil
}
