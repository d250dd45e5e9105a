package messenger

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/api"
	"schoolchat/internal/apperr"
	"schoolchat/internal/config"
	"schoolchat/internal/db"
	"schoolchat/internal/models"
	"schoolchat/internal/session"
	"schoolchat/internal/websocket"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type server struct {
	srv *httptest.Server
	hub *websocket.Hub
}

func startServer(t *testing.T, middleware ...func(http.Handler) http.Handler) *server {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	database, err := db.NewDB("sqlite3", dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(database, nil, nil)
	go hub.Run(ctx)

	cfg := &config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour, AllowedOrigin: "*"}
	handler := api.NewHandlers(database, hub, cfg, nil).Router()
	for _, mw := range middleware {
		handler = mw(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		database.Close()
	})
	return &server{srv: srv, hub: hub}
}

type toasts struct {
	mu   sync.Mutex
	errs []error
}

func (tt *toasts) Toast(err error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.errs = append(tt.errs, err)
}

func (tt *toasts) last() error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if len(tt.errs) == 0 {
		return nil
	}
	return tt.errs[len(tt.errs)-1]
}

func (s *server) client(t *testing.T, name, role string) (*Messenger, *toasts) {
	t.Helper()
	tt := &toasts{}
	m, err := New(session.New(), Options{APIBaseURL: s.srv.URL + "/api", Toaster: tt})
	require.NoError(t, err)

	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@school.test"
	require.NoError(t, m.Register(context.Background(), models.RegisterRequest{
		Name: name, Email: email, Password: "secret1", Role: role,
	}))
	require.NoError(t, m.Attach(context.Background()))
	t.Cleanup(m.Detach)

	id := m.Session.UserID()
	require.Eventually(t, func() bool { return s.hub.IsOnline(id) }, waitFor, tick)
	return m, tt
}

func connect(t *testing.T, a, b *Messenger) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.RequestConnection(ctx, b.Session.UserID()))

	require.Eventually(t, func() bool { return len(b.Graph.Pending()) == 1 }, waitFor, tick)
	req := b.Graph.Pending()[0]
	require.NoError(t, b.Respond(ctx, req.ID, true))

	require.Eventually(t, func() bool {
		_, ok := a.Graph.Peer(b.Session.UserID())
		return ok
	}, waitFor, tick)
}

func TestConnectionLifecycle(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()
	student, studentToasts := s.client(t, "Ama Mensah", models.RoleStudent)
	teacher, _ := s.client(t, "Kojo Asante", models.RoleTeacher)

	found, err := student.Search(ctx, models.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, teacher.Session.UserID(), found[0].ID)

	require.NoError(t, student.RequestConnection(ctx, teacher.Session.UserID()))
	assert.Empty(t, student.Graph.SearchResults())

	// the push lands a local notification and a refreshed request list
	require.Eventually(t, func() bool { return len(teacher.Graph.Pending()) == 1 }, waitFor, tick)
	items := teacher.Inbox.Items()
	require.NotEmpty(t, items)
	assert.Equal(t, "Connection Request", items[0].Title)
	assert.Equal(t, "Ama Mensah wants to connect with you", items[0].Message)

	err = student.RequestConnection(ctx, teacher.Session.UserID())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.DuplicateRequest))
	assert.Equal(t, "Request already sent", apperr.Message(studentToasts.last()))

	req := teacher.Graph.Pending()[0]
	require.NoError(t, teacher.Respond(ctx, req.ID, true))
	assert.Empty(t, teacher.Graph.Pending())
	require.Len(t, teacher.Graph.ConnectionList(), 1)
	assert.Equal(t, student.Session.UserID(), teacher.Graph.ConnectionList()[0].ID)

	require.Eventually(t, func() bool { return len(student.Graph.ConnectionList()) == 1 }, waitFor, tick)
}

func TestMessageReachesPeerAndCountsUnread(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()
	a, _ := s.client(t, "Abena Owusu", models.RoleStudent)
	b, _ := s.client(t, "Yaw Boateng", models.RoleTeacher)
	connect(t, a, b)

	require.NoError(t, a.OpenPeer(ctx, b.Session.UserID()))
	sent, err := a.SendText(ctx, "Hello")
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)

	msgs := a.Conversation.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	aID := a.Session.UserID()
	require.Eventually(t, func() bool { return b.Presence.Unread(aID) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		items := b.Inbox.Items()
		return len(items) > 0 && items[0].Title == "New message from Abena Owusu"
	}, waitFor, tick)

	// the aggregate agrees with the live counter
	require.NoError(t, b.Presence.Reconcile(ctx))
	assert.Equal(t, 1, b.Presence.Unread(aID))

	require.NoError(t, b.OpenPeer(ctx, aID))
	assert.Zero(t, b.Presence.Unread(aID))
	got := b.Conversation.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "Hello", got[0].Message)

	require.NoError(t, b.Presence.Reconcile(ctx))
	assert.Zero(t, b.Presence.Unread(aID))

	// with the conversation open, pushes append instead of counting
	_, err = a.SendText(ctx, "Are you there?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.Conversation.Messages()) == 2 }, waitFor, tick)
	assert.Zero(t, b.Presence.Unread(aID))
}

func TestMessageSeenLiveStaysRead(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()
	a, _ := s.client(t, "Adwoa Sarpong", models.RoleStudent)
	b, _ := s.client(t, "Kofi Mensah", models.RoleTeacher)
	c, _ := s.client(t, "Esi Bonsu", models.RoleStudent)
	connect(t, a, b)
	connect(t, c, b)
	aID := a.Session.UserID()

	require.NoError(t, a.OpenPeer(ctx, b.Session.UserID()))
	require.NoError(t, b.OpenPeer(ctx, aID))

	_, err := a.SendText(ctx, "seen live")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.Conversation.Messages()) == 1 }, waitFor, tick)
	assert.Zero(t, b.Presence.Unread(aID))

	require.NoError(t, b.OpenPeer(ctx, c.Session.UserID()))
	require.Eventually(t, func() bool {
		return b.Presence.Reconcile(ctx) == nil && b.Presence.Unread(aID) == 0
	}, waitFor, tick)
	assert.Empty(t, b.Presence.Counts())
}

// blockFor holds every connections/list request made with token until
// release is closed, and reports each one on held.
type blockFor struct {
	token   atomic.Value // string
	held    chan struct{}
	release chan struct{}
}

func (bf *blockFor) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := bf.token.Load().(string)
		if token != "" && r.URL.Path == "/api/connections/list" && r.Header.Get("Authorization") == "Bearer "+token {
			select {
			case bf.held <- struct{}{}:
			default:
			}
			select {
			case <-bf.release:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func TestSlowRefreshDoesNotStallPushes(t *testing.T) {
	bf := &blockFor{held: make(chan struct{}, 1), release: make(chan struct{})}
	s := startServer(t, bf.wrap)
	t.Cleanup(func() { close(bf.release) })
	ctx := context.Background()

	student, _ := s.client(t, "Afia Owusu", models.RoleStudent)
	first, _ := s.client(t, "Nana Agyei", models.RoleTeacher)
	second, _ := s.client(t, "Yaa Asantewaa", models.RoleTeacher)
	connect(t, student, first)

	bf.token.Store(student.Session.Token())
	require.NoError(t, student.RequestConnection(ctx, second.Session.UserID()))
	require.Eventually(t, func() bool { return len(second.Graph.Pending()) == 1 }, waitFor, tick)
	require.NoError(t, second.Respond(ctx, second.Graph.Pending()[0].ID, true))

	// the accept push is now waiting on a held connections refresh
	select {
	case <-bf.held:
	case <-time.After(waitFor):
		t.Fatal("connections refresh never reached the server")
	}

	studentID := student.Session.UserID()
	require.NoError(t, first.OpenPeer(ctx, studentID))
	_, err := first.SendText(ctx, "still there?")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return student.Presence.Unread(first.Session.UserID()) == 1 }, waitFor, tick)

	detached := make(chan struct{})
	go func() {
		student.Detach()
		close(detached)
	}()
	select {
	case <-detached:
	case <-time.After(waitFor):
		t.Fatal("Detach waited on the held refresh")
	}
}

func TestTypingIndicator(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()
	a, _ := s.client(t, "Efua Darko", models.RoleStudent)
	b, _ := s.client(t, "Kwesi Appiah", models.RoleTeacher)
	connect(t, a, b)

	require.NoError(t, a.OpenPeer(ctx, b.Session.UserID()))
	require.NoError(t, b.OpenPeer(ctx, a.Session.UserID()))

	require.NoError(t, b.NotifyTyping())
	require.Eventually(t, a.Presence.Typing, waitFor, tick)
}

func TestAttachRequiresSession(t *testing.T) {
	tt := &toasts{}
	m, err := New(session.New(), Options{APIBaseURL: "http://localhost:1/api", Toaster: tt})
	require.NoError(t, err)
	err = m.Attach(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, tt.last())
	assert.False(t, m.Channel.Connected())
}

func TestSendWithoutOpenPeerIsNoop(t *testing.T) {
	s := startServer(t)
	a, _ := s.client(t, "Akosua Frimpong", models.RoleStudent)
	msg, err := a.SendText(context.Background(), "hello?")
	require.NoError(t, err)
	assert.Empty(t, msg.ID)
	assert.NoError(t, a.NotifyTyping())
}
