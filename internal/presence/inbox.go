package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolchat/internal/logger"
	"schoolchat/internal/models"
)

type NotificationAPI interface {
	Notifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Inbox is the newest-first notification list. Pushes add local entries
// right away; Fetch replaces everything with the backend's list, which holds
// the persisted copies of the same events.
type Inbox struct {
	api    NotificationAPI
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	items []models.Notification
}

func NewInbox(api NotificationAPI, log *logger.Logger) *Inbox {
	if log == nil {
		log = logger.Discard()
	}
	return &Inbox{api: api, logger: log, now: time.Now}
}

func (in *Inbox) Fetch(ctx context.Context) error {
	items, err := in.api.Notifications(ctx)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.items = items
	in.mu.Unlock()
	return nil
}

// MarkRead flips the flag locally first. The backend update is best effort:
// a failure is logged and the local state is kept.
func (in *Inbox) MarkRead(ctx context.Context, id string) {
	local := false
	in.mu.Lock()
	for i := range in.items {
		if in.items[i].ID == id {
			in.items[i].IsRead = true
			local = in.items[i].Local
		}
	}
	in.mu.Unlock()

	if local {
		return
	}
	if err := in.api.MarkNotificationRead(ctx, id); err != nil {
		in.logger.Warn("mark notification %s read: %v", id, err)
	}
}

func (in *Inbox) MarkAllRead(ctx context.Context) {
	in.mu.Lock()
	for i := range in.items {
		in.items[i].IsRead = true
	}
	in.mu.Unlock()

	if err := in.api.MarkAllNotificationsRead(ctx); err != nil {
		in.logger.Warn("mark all notifications read: %v", err)
	}
}

// OnMessagePush records a local notification for a message from sender.
func (in *Inbox) OnMessagePush(msg models.Message, sender models.User) {
	name := sender.Name
	if name == "" {
		name = "someone"
	}
	title := "New message from " + name
	if msg.Type == models.MessageVoice {
		title = "New voice message from " + name
	}
	in.add(models.Notification{
		Title:   title,
		Message: msg.Message,
		Type:    models.NotificationMessage,
	})
}

func (in *Inbox) OnConnectionPush(req models.ConnectionRequest) {
	in.add(models.Notification{
		Title:   "Connection Request",
		Message: req.Requester.Name + " wants to connect with you",
		Type:    models.NotificationConnection,
	})
}

func (in *Inbox) add(n models.Notification) {
	n.ID = "local-" + uuid.NewString()
	n.Local = true
	n.CreatedAt = in.now()

	in.mu.Lock()
	in.items = append([]models.Notification{n}, in.items...)
	in.mu.Unlock()
}

func (in *Inbox) Items() []models.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]models.Notification(nil), in.items...)
}

func (in *Inbox) UnreadNotifications() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, item := range in.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}
