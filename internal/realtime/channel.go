// Package realtime owns the single websocket connection of a client session
// and dispatches inbound events to subscribed handlers.
package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"schoolchat/internal/apperr"
	"schoolchat/internal/logger"
	"schoolchat/internal/models"
	"schoolchat/internal/session"
)

const writeWait = 10 * time.Second

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

type subscription struct {
	id uint64
	fn Handler
}

type Channel struct {
	url     string
	session *session.Session
	dialer  *websocket.Dialer
	logger  *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	userID string
	done   chan struct{}

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
}

// New returns a disconnected channel for the websocket endpoint socketURL
// (e.g. ws://localhost:8080/ws).
func New(socketURL string, sess *session.Session, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Discard()
	}
	return &Channel{
		url:      socketURL,
		session:  sess,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   log,
		handlers: make(map[string][]subscription),
	}
}

// Connect dials the endpoint and registers userID. Calling it while already
// connected does nothing.
func (c *Channel) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return apperr.Wrap(apperr.NetworkFailure, err, "")
	}
	q := u.Query()
	q.Set("token", c.session.Token())
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return apperr.Wrap(apperr.NetworkFailure, errors.Wrap(err, "dial realtime channel"), "")
	}

	if err := c.write(conn, models.EventRegister, models.RegisterEvent{UserID: userID}); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.userID = userID
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	c.logger.Info("realtime channel connected as %s", userID)
	return nil
}

// Disconnect closes the connection and waits for the read loop to stop. It is
// safe to call when not connected. Handlers must not call it.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
	<-done
	c.logger.Info("realtime channel disconnected")
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends one event. It fails with NetworkFailure when not connected.
func (c *Channel) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperr.New(apperr.NetworkFailure, "Not connected")
	}
	return c.write(conn, event, payload)
}

func (c *Channel) write(conn *websocket.Conn, event string, payload interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.WebSocketMessage{Type: event, Payload: payload}); err != nil {
		return apperr.Wrap(apperr.NetworkFailure, errors.Wrapf(err, "emit %s", event), "")
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("realtime channel closed: %v", err)
			}
			// no reconnection: a server-side close leaves the channel disconnected
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		var in models.InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.logger.Warn("bad realtime frame: %v", err)
			continue
		}
		c.dispatch(in)
	}
}

func (c *Channel) dispatch(in models.InboundMessage) {
	c.hmu.RLock()
	subs := append([]subscription(nil), c.handlers[in.Type]...)
	c.hmu.RUnlock()
	for _, sub := range subs {
		sub.fn(in.Payload)
	}
}

func (c *Channel) subscribe(event string, fn Handler) uint64 {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.nextID++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextID, fn: fn})
	return c.nextID
}

func (c *Channel) unsubscribe(event string, id uint64) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	subs := c.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// HandlerCount reports how many handlers are subscribed to event.
func (c *Channel) HandlerCount(event string) int {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return len(c.handlers[event])
}
