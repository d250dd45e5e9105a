package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolchat/internal/models"
)

type requestRow struct {
	ID          string    `db:"id"`
	RequesterID string    `db:"requester_id"`
	RecipientID string    `db:"recipient_id"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// CreateConnectionRequest records a pending request from requesterID to
// recipientID. A pair of users has at most one pending request, whichever
// side sent it.
func (db *DB) CreateConnectionRequest(ctx context.Context, requesterID, recipientID string) (*models.ConnectionRequest, error) {
	if requesterID == recipientID {
		return nil, ErrSelfRequest
	}
	if _, err := db.GetUserByID(ctx, recipientID); err != nil {
		return nil, err
	}

	connected, err := db.AreConnected(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}
	if connected {
		return nil, ErrAlreadyConnected
	}

	var pending int
	err = db.GetContext(ctx, &pending, db.Rebind(
		`SELECT COUNT(*) FROM connection_requests
		WHERE status = ? AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))`),
		models.RequestPending, requesterID, recipientID, recipientID, requesterID)
	if err != nil {
		return nil, errors.Wrap(err, "error checking pending requests")
	}
	if pending > 0 {
		return nil, ErrDuplicateRequest
	}

	row := requestRow{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      models.RequestPending,
		CreatedAt:   db.now(),
	}
	_, err = db.NamedExecContext(ctx,
		`INSERT INTO connection_requests (id, requester_id, recipient_id, status, created_at)
		VALUES (:id, :requester_id, :recipient_id, :status, :created_at)`, row)
	if err != nil {
		return nil, errors.Wrap(err, "error creating connection request")
	}
	return db.hydrateRequest(ctx, row)
}

func (db *DB) GetConnectionRequest(ctx context.Context, id string) (*models.ConnectionRequest, error) {
	var row requestRow
	err := db.GetContext(ctx, &row, db.Rebind(`SELECT * FROM connection_requests WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return db.hydrateRequest(ctx, row)
}

// RespondConnectionRequest moves a pending request addressed to recipientID
// to accepted or rejected. Anything else is ErrNotFound.
func (db *DB) RespondConnectionRequest(ctx context.Context, id, recipientID string, accept bool) (*models.ConnectionRequest, error) {
	status := models.RequestRejected
	if accept {
		status = models.RequestAccepted
	}

	res, err := db.ExecContext(ctx, db.Rebind(
		`UPDATE connection_requests SET status = ? WHERE id = ? AND recipient_id = ? AND status = ?`),
		status, id, recipientID, models.RequestPending)
	if err != nil {
		return nil, errors.Wrap(err, "error responding to connection request")
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, errors.Wrap(err, "error responding to connection request")
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return db.GetConnectionRequest(ctx, id)
}

// ListPendingRequests returns the pending requests addressed to userID.
func (db *DB) ListPendingRequests(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	rows := []requestRow{}
	err := db.SelectContext(ctx, &rows, db.Rebind(
		`SELECT * FROM connection_requests WHERE recipient_id = ? AND status = ? ORDER BY created_at, id`),
		userID, models.RequestPending)
	if err != nil {
		return nil, errors.Wrap(err, "error listing pending requests")
	}

	requests := make([]models.ConnectionRequest, 0, len(rows))
	for _, row := range rows {
		req, err := db.hydrateRequest(ctx, row)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, nil
}

// ListConnections returns the peers of every accepted request involving userID.
func (db *DB) ListConnections(ctx context.Context, userID string) ([]models.User, error) {
	users := []models.User{}
	err := db.SelectContext(ctx, &users, db.Rebind(
		`SELECT DISTINCT u.* FROM users u
		JOIN connection_requests r
			ON (r.requester_id = ? AND r.recipient_id = u.id)
			OR (r.recipient_id = ? AND r.requester_id = u.id)
		WHERE r.status = ?
		ORDER BY u.name, u.id`),
		userID, userID, models.RequestAccepted)
	return users, errors.Wrap(err, "error listing connections")
}

func (db *DB) AreConnected(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, db.Rebind(
		`SELECT COUNT(*) FROM connection_requests
		WHERE status = ? AND ((requester_id = ? AND recipient_id = ?) OR (requester_id = ? AND recipient_id = ?))`),
		models.RequestAccepted, a, b, b, a)
	if err != nil {
		return false, errors.Wrap(err, "error checking connection")
	}
	return n > 0, nil
}

func (db *DB) hydrateRequest(ctx context.Context, row requestRow) (*models.ConnectionRequest, error) {
	requester, err := db.GetUserByID(ctx, row.RequesterID)
	if err != nil {
		return nil, errors.Wrapf(err, "requester %s", row.RequesterID)
	}
	recipient, err := db.GetUserByID(ctx, row.RecipientID)
	if err != nil {
		return nil, errors.Wrapf(err, "recipient %s", row.RecipientID)
	}
	return &models.ConnectionRequest{
		ID:        row.ID,
		Requester: *requester,
		Recipient: *recipient,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
	}, nil
}
