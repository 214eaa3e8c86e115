// Package messaging stores point-to-point messages between users, used to
// nudge whoever holds a lock. Messages persist until the recipient
// acknowledges them, so they survive restarts and offline recipients.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/vaultd/core/database"
	verrors "github.com/adalundhe/vaultd/core/errors"
)

var (
	// ErrEmptyMessage rejects sends missing a sender, recipient, or body.
	ErrEmptyMessage = errors.New("message requires a sender, recipient, and text")

	// ErrUnknownMessage is returned when an acknowledgement matches nothing.
	ErrUnknownMessage = errors.New("no such message for this recipient")
)

// Message is one user-to-user note.
type Message struct {
	ID           string    `json:"id"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

var migrations = []database.Migration{
	{
		Version:     1,
		Description: "create messages",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE messages (
					id           TEXT    PRIMARY KEY,
					sender       TEXT    NOT NULL,
					recipient    TEXT    NOT NULL,
					text         TEXT    NOT NULL,
					created_at   INTEGER NOT NULL,
					acknowledged INTEGER NOT NULL DEFAULT 0
				);
				CREATE INDEX idx_messages_recipient ON messages(recipient, acknowledged);
			`)
			return err
		},
	},
}

// Store persists messages in sqlite.
type Store struct {
	pool   *database.Pool
	logger *slog.Logger
}

// Open migrates the message schema.
func Open(ctx context.Context, pool *database.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := database.Migrate(ctx, pool, "messaging", migrations); err != nil {
		return nil, verrors.E("messaging.open", "", verrors.KindInternal, err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Send stores a message for the recipient and returns it.
func (s *Store) Send(ctx context.Context, sender, recipient, text string) (*Message, error) {
	if sender == "" || recipient == "" || text == "" {
		return nil, verrors.E("messaging.send", "", verrors.KindInvalid, ErrEmptyMessage)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.DB().ExecContext(ctx, `
		INSERT INTO messages (id, sender, recipient, text, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, 0)`,
		msg.ID, msg.Sender, msg.Recipient, msg.Text, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, verrors.E("messaging.send", "", verrors.KindInternal, err)
	}

	s.logger.Debug("message stored", "from", sender, "to", recipient)
	return msg, nil
}

// ForRecipient returns the recipient's unacknowledged messages, oldest
// first, so a client can replay them in order.
func (s *Store) ForRecipient(ctx context.Context, recipient string) ([]*Message, error) {
	rows, err := s.pool.DB().QueryContext(ctx, `
		SELECT id, sender, recipient, text, created_at, acknowledged
		FROM messages WHERE recipient = ? AND acknowledged = 0
		ORDER BY created_at ASC`, recipient)
	if err != nil {
		return nil, verrors.E("messaging.list", "", verrors.KindInternal, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt int64
		var acked int
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Recipient, &msg.Text,
			&createdAt, &acked); err != nil {
			return nil, verrors.E("messaging.list", "", verrors.KindInternal, err)
		}
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		msg.Acknowledged = acked != 0
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, verrors.E("messaging.list", "", verrors.KindInternal, err)
	}

	return messages, nil
}

// Acknowledge marks a message read. Only the recipient may acknowledge.
func (s *Store) Acknowledge(ctx context.Context, id, recipient string) error {
	result, err := s.pool.DB().ExecContext(ctx, `
		UPDATE messages SET acknowledged = 1
		WHERE id = ? AND recipient = ?`, id, recipient)
	if err != nil {
		return verrors.E("messaging.ack", "", verrors.KindInternal, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return verrors.E("messaging.ack", "", verrors.KindInternal, err)
	}
	if affected == 0 {
		return verrors.E("messaging.ack", "", verrors.KindNotFound, ErrUnknownMessage)
	}
	return nil
}
