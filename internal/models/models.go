package models

import (
	"encoding/json"
	"time"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// ValidRole reports whether r is one of the school roles.
func ValidRole(r string) bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

type User struct {
	ID         string    `json:"_id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Password   string    `json:"-" db:"password"`
	Role       string    `json:"role" db:"role"`
	Class      string    `json:"class,omitempty" db:"class"`
	Section    string    `json:"section,omitempty" db:"section"`
	RollNumber string    `json:"rollNumber,omitempty" db:"roll_number"`
	Phone      string    `json:"phone,omitempty" db:"phone"`
	Picture    string    `json:"picture,omitempty" db:"picture"`
	IsApproved bool      `json:"isApproved" db:"is_approved"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

type ConnectionRequest struct {
	ID        string    `json:"_id"`
	Requester User      `json:"requester"`
	Recipient User      `json:"recipient"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	MessageText  = "text"
	MessageVoice = "voice"

	// VoiceMessageText is the text body stored alongside every voice note.
	VoiceMessageText = "🎤 Voice message"
)

type Message struct {
	ID        string    `json:"_id,omitempty" db:"id"`
	Sender    string    `json:"sender" db:"sender_id"`
	Receiver  string    `json:"receiver" db:"receiver_id"`
	Message   string    `json:"message" db:"body"`
	Type      string    `json:"type,omitempty" db:"type"`
	AudioURL  string    `json:"audioUrl,omitempty" db:"audio_url"`
	Duration  int       `json:"duration,omitempty" db:"duration"`
	IsRead    bool      `json:"isRead" db:"is_read"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// ClientID and Pending are local-only: set on an optimistic entry until
	// the backend confirms it.
	ClientID string `json:"-" db:"-"`
	Pending  bool   `json:"-" db:"-"`
}

const (
	NotificationMessage    = "message"
	NotificationConnection = "connection"
	NotificationSystem     = "system"
)

type Notification struct {
	ID        string    `json:"_id" db:"id"`
	UserID    string    `json:"-" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"body"`
	Type      string    `json:"type" db:"type"`
	IsRead    bool      `json:"isRead" db:"is_read"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// Local marks notifications synthesised from realtime pushes.
	Local bool `json:"-" db:"-"`
}

type RegisterRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	Role       string `json:"role" validate:"required,oneof=student teacher"`
	Class      string `json:"class"`
	Section    string `json:"section"`
	RollNumber string `json:"rollNumber"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type SendConnectionRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
}

type RespondConnectionRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Accept    bool   `json:"accept"`
}

type SendMessageRequest struct {
	Receiver string `json:"receiver" validate:"required"`
	Message  string `json:"message" validate:"required"`
	Type     string `json:"type" validate:"omitempty,oneof=text voice"`
	AudioURL string `json:"audioUrl" validate:"required_if=Type voice"`
	Duration int    `json:"duration" validate:"gte=0"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Realtime event names.
const (
	EventRegister           = "register"
	EventSendMessage        = "sendMessage"
	EventReceiveMessage     = "receiveMessage"
	EventTyping             = "typing"
	EventNewConnection      = "newConnection"
	EventConnectionAccepted = "connectionAccepted"
	EventSystem             = "system"
)

type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is a WebSocketMessage whose payload is decoded later, once
// the type is known.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type RegisterEvent struct {
	UserID string `json:"userId"`
}

type TypingEvent struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

type SystemEvent struct {
	Message string `json:"message"`
}
