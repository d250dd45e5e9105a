package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"schoolchat/internal/logger"
	"schoolchat/internal/models"
)

// Directory answers whether two users may talk to each other.
type Directory interface {
	AreConnected(ctx context.Context, a, b string) (bool, error)
}

type Hub struct {
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	userMap    map[string]map[*Client]bool
	mu         sync.Mutex
	logger     *logger.Logger
	dir        Directory
	relay      Relay
	done       chan struct{}
}

// NewHub builds a hub. relay may be nil, in which case delivery is limited to
// sockets held by this process.
func NewHub(dir Directory, relay Relay, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		userMap:    make(map[string]map[*Client]bool),
		logger:     log,
		dir:        dir,
		relay:      relay,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	if h.relay != nil {
		go func() {
			err := h.relay.Subscribe(ctx, func(env Envelope) {
				h.deliver(env.UserID, env.Data)
			})
			if err != nil && ctx.Err() == nil {
				h.logger.Error(err, "relay subscription ended")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			if h.userMap[client.userID] == nil {
				h.userMap[client.userID] = make(map[*Client]bool)
			}
			h.userMap[client.userID][client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client connected: %s (ID: %s), total clients: %d", client.name, client.userID, total)

			welcome := models.WebSocketMessage{
				Type:    models.EventSystem,
				Payload: models.SystemEvent{Message: "Connected to chat server"},
			}
			if data, err := json.Marshal(welcome); err == nil {
				h.deliverTo(client, data)
			}

		case client := <-h.Unregister:
			h.mu.Lock()
			removed := h.remove(client)
			total := len(h.clients)
			h.mu.Unlock()
			if removed {
				h.logger.Info("Client disconnected: %s (ID: %s), remaining clients: %d", client.name, client.userID, total)
			}
		}
	}
}

// Join hands client to the hub. It returns false once the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	if set := h.userMap[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.userMap, client.userID)
		}
	}
	close(client.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}

// IsOnline reports whether userID has at least one socket on this process.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.userMap[userID]) > 0
}

// SendToUser pushes message to every socket of userID, across instances when
// a relay is configured.
func (h *Hub) SendToUser(ctx context.Context, userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	if h.relay != nil {
		return errors.Wrap(h.relay.Publish(ctx, Envelope{UserID: userID, Data: data}), "relay publish")
	}
	h.deliver(userID, data)
	return nil
}

func (h *Hub) deliver(userID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.userMap[userID]
	if !ok {
		h.logger.Debug("User not connected: %s", userID)
		return
	}
	for client := range set {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Send buffer full for user %s, dropping client", userID)
			h.remove(client)
		}
	}
}

func (h *Hub) deliverTo(client *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
		h.remove(client)
	}
}

func (h *Hub) canTalk(ctx context.Context, a, b string) bool {
	if h.dir == nil {
		return true
	}
	ok, err := h.dir.AreConnected(ctx, a, b)
	if err != nil {
		h.logger.Error(err, "connection check %s -> %s", a, b)
		return false
	}
	return ok
}
