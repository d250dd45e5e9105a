// Package connections mediates the request -> accept/reject lifecycle and
// keeps the last fetched views of search results, connections and incoming
// requests. The views are fetched independently and may briefly disagree.
package connections

import (
	"context"
	"sync"

	"schoolchat/internal/logger"
	"schoolchat/internal/models"
)

type API interface {
	SearchUsers(ctx context.Context, role string) ([]models.User, error)
	SendConnectionRequest(ctx context.Context, recipientID string) (models.ConnectionRequest, error)
	RespondConnectionRequest(ctx context.Context, requestID string, accept bool) (models.ConnectionRequest, error)
	Connections(ctx context.Context) ([]models.User, error)
	PendingRequests(ctx context.Context) ([]models.ConnectionRequest, error)
}

type Graph struct {
	api    API
	logger *logger.Logger

	mu          sync.RWMutex
	search      []models.User
	connections []models.User
	pending     []models.ConnectionRequest
}

func New(api API, log *logger.Logger) *Graph {
	if log == nil {
		log = logger.Discard()
	}
	return &Graph{api: api, logger: log}
}

// Search replaces the search results with users of role the backend says
// can still be asked.
func (g *Graph) Search(ctx context.Context, role string) ([]models.User, error) {
	users, err := g.api.SearchUsers(ctx, role)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.search = users
	g.mu.Unlock()
	return copyUsers(users), nil
}

// SendRequest asks targetID to connect. On success the target leaves the
// search results; a DuplicateRequest from the backend is returned as is.
func (g *Graph) SendRequest(ctx context.Context, targetID string) (models.ConnectionRequest, error) {
	req, err := g.api.SendConnectionRequest(ctx, targetID)
	if err != nil {
		return models.ConnectionRequest{}, err
	}

	g.mu.Lock()
	kept := g.search[:0:0]
	for _, u := range g.search {
		if u.ID != targetID {
			kept = append(kept, u)
		}
	}
	g.search = kept
	g.mu.Unlock()
	return req, nil
}

// RespondRequest accepts or rejects requestID. Nothing local changes: the
// caller refreshes to see the request leave the pending list.
func (g *Graph) RespondRequest(ctx context.Context, requestID string, accept bool) (models.ConnectionRequest, error) {
	return g.api.RespondConnectionRequest(ctx, requestID, accept)
}

func (g *Graph) Connections(ctx context.Context) ([]models.User, error) {
	users, err := g.api.Connections(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.connections = users
	g.mu.Unlock()
	return copyUsers(users), nil
}

func (g *Graph) PendingRequests(ctx context.Context) ([]models.ConnectionRequest, error) {
	reqs, err := g.api.PendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.pending = reqs
	g.mu.Unlock()
	return append([]models.ConnectionRequest(nil), reqs...), nil
}

// Refresh refetches connections and pending requests. A failed fetch leaves
// its view stale; the first error is returned.
func (g *Graph) Refresh(ctx context.Context) error {
	_, connErr := g.Connections(ctx)
	_, pendErr := g.PendingRequests(ctx)
	if connErr != nil {
		return connErr
	}
	return pendErr
}

func (g *Graph) SearchResults() []models.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyUsers(g.search)
}

func (g *Graph) ConnectionList() []models.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyUsers(g.connections)
}

func (g *Graph) Pending() []models.ConnectionRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]models.ConnectionRequest(nil), g.pending...)
}

// Peer looks a connection up by id in the last fetched list.
func (g *Graph) Peer(id string) (models.User, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, u := range g.connections {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func copyUsers(users []models.User) []models.User {
	return append([]models.User(nil), users...)
}
