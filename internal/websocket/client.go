package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"schoolchat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // voice notes travel as data URLs
)

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	name   string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, name string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		name:   name,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("read error for %s: %v", c.userID, err)
			}
			return
		}

		var in models.InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.hub.logger.Warn("error unmarshaling message from %s: %v", c.userID, err)
			continue
		}
		c.handle(context.Background(), in)
	}
}

func (c *Client) handle(ctx context.Context, in models.InboundMessage) {
	switch in.Type {
	case models.EventRegister:
		var reg models.RegisterEvent
		if err := json.Unmarshal(in.Payload, &reg); err != nil || reg.UserID != c.userID {
			c.hub.logger.Warn("register for %q ignored on socket of %s", reg.UserID, c.userID)
			return
		}
		c.hub.logger.Debug("registered %s", c.userID)

	case models.EventSendMessage:
		var msg models.Message
		if err := json.Unmarshal(in.Payload, &msg); err != nil || msg.Receiver == "" {
			c.hub.logger.Warn("bad sendMessage payload from %s", c.userID)
			return
		}
		// the socket's identity wins over whatever the payload claims
		msg.Sender = c.userID
		if !c.hub.canTalk(ctx, msg.Sender, msg.Receiver) {
			return
		}
		out := models.WebSocketMessage{Type: models.EventReceiveMessage, Payload: msg}
		if err := c.hub.SendToUser(ctx, msg.Receiver, out); err != nil {
			c.hub.logger.Error(err, "relay message %s -> %s", msg.Sender, msg.Receiver)
		}

	case models.EventTyping:
		var typing models.TypingEvent
		if err := json.Unmarshal(in.Payload, &typing); err != nil || typing.ReceiverID == "" {
			return
		}
		typing.UserID = c.userID
		if !c.hub.canTalk(ctx, typing.UserID, typing.ReceiverID) {
			return
		}
		out := models.WebSocketMessage{Type: models.EventTyping, Payload: typing}
		if err := c.hub.SendToUser(ctx, typing.ReceiverID, out); err != nil {
			c.hub.logger.Error(err, "relay typing %s -> %s", typing.UserID, typing.ReceiverID)
		}

	default:
		c.hub.logger.Debug("unknown event %q from %s", in.Type, c.userID)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
