// Package backend is the REST client for the messaging API. Every failure is
// returned as an *apperr.Error; there are no retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"schoolchat/internal/apperr"
	"schoolchat/internal/models"
	"schoolchat/internal/session"
)

const DefaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
}

// New returns a client for baseURL (e.g. http://localhost:8080/api). The
// session's token, when present, is sent as a bearer token.
func New(baseURL string, sess *session.Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: sess,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.InvalidResponse, err, "")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.NetworkFailure, err, "")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		if token := c.session.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.NetworkFailure, errors.Wrapf(err, "%s %s", method, path), "")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.NetworkFailure, err, "")
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.InvalidResponse, errors.Wrapf(err, "decode %s %s", method, path), "")
	}
	return nil
}

func statusError(status int, body []byte) error {
	var payload models.ErrorResponse
	_ = json.Unmarshal(body, &payload)
	cause := errors.Errorf("http %d", status)

	switch {
	case status == http.StatusConflict:
		return apperr.Wrap(apperr.DuplicateRequest, cause, payload.Message)
	case status >= 500:
		return apperr.Wrap(apperr.NetworkFailure, cause, "")
	default:
		return apperr.Wrap(apperr.InvalidResponse, cause, payload.Message)
	}
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", req, &resp)
	return resp, err
}

func (c *Client) Login(ctx context.Context, email, password string) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password}, &resp)
	return resp, err
}

func (c *Client) SearchUsers(ctx context.Context, role string) ([]models.User, error) {
	var resp struct {
		Users []models.User `json:"users"`
	}
	path := "/connections/search"
	if role != "" {
		path += "?role=" + url.QueryEscape(role)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Users, err
}

func (c *Client) SendConnectionRequest(ctx context.Context, recipientID string) (models.ConnectionRequest, error) {
	var resp struct {
		Request models.ConnectionRequest `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "/connections/send", models.SendConnectionRequest{RecipientID: recipientID}, &resp)
	return resp.Request, err
}

func (c *Client) RespondConnectionRequest(ctx context.Context, requestID string, accept bool) (models.ConnectionRequest, error) {
	var resp struct {
		Request models.ConnectionRequest `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "/connections/respond", models.RespondConnectionRequest{RequestID: requestID, Accept: accept}, &resp)
	return resp.Request, err
}

func (c *Client) Connections(ctx context.Context) ([]models.User, error) {
	var resp struct {
		Connections []models.User `json:"connections"`
	}
	err := c.do(ctx, http.MethodGet, "/connections/list", nil, &resp)
	return resp.Connections, err
}

func (c *Client) PendingRequests(ctx context.Context) ([]models.ConnectionRequest, error) {
	var resp struct {
		Requests []models.ConnectionRequest `json:"requests"`
	}
	err := c.do(ctx, http.MethodGet, "/connections/requests", nil, &resp)
	return resp.Requests, err
}

func (c *Client) Messages(ctx context.Context, peerID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peerID), nil, &resp)
	return resp.Messages, err
}

// MarkConversationRead clears the caller's unread messages from peerID.
func (c *Client) MarkConversationRead(ctx context.Context, peerID string) error {
	return c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(peerID)+"/read", nil, nil)
}

func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/messages", req, &resp)
	return resp.Message, err
}

// UnreadCounts returns unread messages per sender in one round trip.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "/messages/unread", nil, &resp)
	if resp.Counts == nil {
		resp.Counts = map[string]int{}
	}
	return resp.Counts, err
}

func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	err := c.do(ctx, http.MethodGet, "/notifications", nil, &resp)
	return resp.Notifications, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil)
}
