package db

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolchat/internal/models"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if _, err := db.GetUserByEmail(ctx, user.Email); err == nil {
		return ErrEmailTaken
	} else if err != ErrNotFound {
		return err
	}

	user.ID = uuid.New().String()
	user.CreatedAt = db.now()
	_, err := db.ExecContext(ctx, db.Rebind(
		`INSERT INTO users (id, name, email, password, role, class, section, roll_number, phone, picture, is_approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Name, user.Email, user.Password, user.Role, user.Class, user.Section,
		user.RollNumber, user.Phone, user.Picture, user.IsApproved, user.CreatedAt,
	)
	return errors.Wrap(err, "error creating user")
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT * FROM users WHERE email = ?`), strings.ToLower(email))
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT * FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY created_at, name`)
	return users, errors.Wrap(err, "error listing users")
}

// SearchUsers lists users of the given role (any role when empty) that userID
// could send a request to: not userID, not a connection and not already in a
// pending request with userID in either direction.
func (db *DB) SearchUsers(ctx context.Context, userID, role string) ([]models.User, error) {
	query := `SELECT * FROM users
		WHERE id <> ?
		AND id NOT IN (SELECT recipient_id FROM connection_requests WHERE requester_id = ? AND status IN (?, ?))
		AND id NOT IN (SELECT requester_id FROM connection_requests WHERE recipient_id = ? AND status IN (?, ?))`
	args := []interface{}{
		userID,
		userID, models.RequestPending, models.RequestAccepted,
		userID, models.RequestPending, models.RequestAccepted,
	}
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY name, id`

	users := []models.User{}
	err := db.SelectContext(ctx, &users, db.Rebind(query), args...)
	return users, errors.Wrap(err, "error searching users")
}
