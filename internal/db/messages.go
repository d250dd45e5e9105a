package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolchat/internal/models"
)

// CreateMessage persists a message between two connected users and fills in
// its id and timestamp.
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	connected, err := db.AreConnected(ctx, msg.Sender, msg.Receiver)
	if err != nil {
		return err
	}
	if !connected {
		return ErrNotConnected
	}

	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	msg.ID = uuid.New().String()
	msg.CreatedAt = db.now()
	msg.IsRead = false

	_, err = db.NamedExecContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, body, type, audio_url, duration, is_read, created_at)
		VALUES (:id, :sender_id, :receiver_id, :body, :type, :audio_url, :duration, :is_read, :created_at)`, msg)
	return errors.Wrap(err, "error creating message")
}

// ListMessages returns the whole history between userID and peerID in
// creation order, then marks the peer's messages to userID as read.
func (db *DB) ListMessages(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := db.SelectContext(ctx, &messages, db.Rebind(
		`SELECT id, sender_id, receiver_id, body, type, audio_url, duration, is_read, created_at FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at, id`),
		userID, peerID, peerID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "error listing messages")
	}

	if _, err := db.MarkMessagesRead(ctx, userID, peerID); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkMessagesRead flags every unread message from peerID to userID as read.
func (db *DB) MarkMessagesRead(ctx context.Context, userID, peerID string) (int64, error) {
	res, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE messages SET is_read = ? WHERE sender_id = ? AND receiver_id = ? AND is_read = ?`),
		true, peerID, userID, false)
	if err != nil {
		return 0, errors.Wrap(err, "error marking messages read")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "error marking messages read")
}

// UnreadCounts returns, per sender, how many messages to userID are unread.
// Senders with nothing unread are absent.
func (db *DB) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	var rows []struct {
		SenderID string `db:"sender_id"`
		Count    int    `db:"n"`
	}
	err := db.SelectContext(ctx, &rows, db.Rebind(
		`SELECT sender_id, COUNT(*) AS n FROM messages
		WHERE receiver_id = ? AND is_read = ?
		GROUP BY sender_id`),
		userID, false)
	if err != nil {
		return nil, errors.Wrap(err, "error counting unread messages")
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.SenderID] = row.Count
	}
	return counts, nil
}
