package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolchat/internal/models"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = db.now()
	n.IsRead = false
	_, err := db.NamedExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, body, type, is_read, created_at)
		VALUES (:id, :user_id, :title, :body, :type, :is_read, :created_at)`, n)
	return errors.Wrap(err, "error creating notification")
}

// ListNotifications returns userID's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := db.SelectContext(ctx, &notifications, db.Rebind(
		`SELECT * FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id`), userID)
	return notifications, errors.Wrap(err, "error listing notifications")
}

func (db *DB) MarkNotificationRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	res, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?`), true, id, userID)
	if err != nil {
		return nil, errors.Wrap(err, "error marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	var notification models.Notification
	if err := db.GetContext(ctx, &notification, db.Rebind(`SELECT * FROM notifications WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &notification, nil
}

func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE notifications SET is_read = ? WHERE user_id = ? AND is_read = ?`), true, userID, false)
	if err != nil {
		return 0, errors.Wrap(err, "error marking notifications read")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "error marking notifications read")
}
