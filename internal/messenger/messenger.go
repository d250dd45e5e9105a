// Package messenger assembles one signed-in client: the REST backend, the
// realtime channel and the local stores they feed.
package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"schoolchat/internal/apperr"
	"schoolchat/internal/backend"
	"schoolchat/internal/config"
	"schoolchat/internal/connections"
	"schoolchat/internal/conversation"
	"schoolchat/internal/logger"
	"schoolchat/internal/media"
	"schoolchat/internal/models"
	"schoolchat/internal/presence"
	"schoolchat/internal/realtime"
	"schoolchat/internal/session"
)

const pushTimeout = 10 * time.Second

// Toaster shows a user-facing error.
type Toaster interface {
	Toast(err error)
}

// LogToaster writes toasts to a logger.
type LogToaster struct {
	Logger *logger.Logger
}

func (t LogToaster) Toast(err error) {
	t.Logger.Warn("%s", apperr.Message(err))
}

type Options struct {
	APIBaseURL     string
	HTTPClient     *http.Client
	TypingTimeout  time.Duration
	ReconcileEvery time.Duration
	Clock          presence.Clock
	Toaster        Toaster
	Logger         *logger.Logger
}

type Messenger struct {
	Session      *session.Session
	API          *backend.Client
	Channel      *realtime.Channel
	Graph        *connections.Graph
	Conversation *conversation.Store
	Presence     *presence.Mirror
	Inbox        *presence.Inbox

	toaster Toaster
	logger  *logger.Logger
	every   time.Duration

	mu       sync.Mutex
	scope    *realtime.Scope
	stopSync context.CancelFunc

	// work started by push handlers, kept off the channel's read loop
	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func New(sess *session.Session, opts Options) (*Messenger, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	socketURL, err := config.SocketURLFor(opts.APIBaseURL)
	if err != nil {
		return nil, err
	}
	toaster := opts.Toaster
	if toaster == nil {
		toaster = LogToaster{Logger: log}
	}

	api := backend.New(opts.APIBaseURL, sess, opts.HTTPClient)
	ch := realtime.New(socketURL, sess, log)
	return &Messenger{
		Session:      sess,
		API:          api,
		Channel:      ch,
		Graph:        connections.New(api, log),
		Conversation: conversation.New(api, ch, sess, log),
		Presence:     presence.NewMirror(api, opts.Clock, opts.TypingTimeout, log),
		Inbox:        presence.NewInbox(api, log),
		toaster:      toaster,
		logger:       log,
		every:        opts.ReconcileEvery,
	}, nil
}

func (m *Messenger) fail(err error) error {
	if err != nil {
		m.toaster.Toast(err)
	}
	return err
}

func (m *Messenger) Register(ctx context.Context, req models.RegisterRequest) error {
	resp, err := m.API.Register(ctx, req)
	if err != nil {
		return m.fail(err)
	}
	m.Session.SetAuth(resp.User, resp.Token)
	return nil
}

func (m *Messenger) Login(ctx context.Context, email, password string) error {
	resp, err := m.API.Login(ctx, email, password)
	if err != nil {
		return m.fail(err)
	}
	m.Session.SetAuth(resp.User, resp.Token)
	return nil
}

// Attach subscribes to pushes, connects the channel and loads the initial
// views. Calling it twice does nothing.
func (m *Messenger) Attach(ctx context.Context) error {
	if !m.Session.Authenticated() {
		return m.fail(apperr.New(apperr.InvalidResponse, "Not signed in"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scope != nil {
		return nil
	}

	m.bgMu.Lock()
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())
	m.bgMu.Unlock()

	scope := m.Channel.NewScope().
		On(models.EventReceiveMessage, m.onMessage).
		On(models.EventTyping, m.onTyping).
		On(models.EventNewConnection, m.onNewConnection).
		On(models.EventConnectionAccepted, m.onConnectionAccepted).
		On(models.EventSystem, m.onSystem)

	if err := m.Channel.Connect(ctx, m.Session.UserID()); err != nil {
		scope.Close()
		m.stopBackground()
		return m.fail(err)
	}
	m.scope = scope

	if err := m.Graph.Refresh(ctx); err != nil {
		m.logger.Warn("initial connections load: %v", err)
	}
	if err := m.Presence.Reconcile(ctx); err != nil {
		m.logger.Warn("initial unread load: %v", err)
	}
	if err := m.Inbox.Fetch(ctx); err != nil {
		m.logger.Warn("initial notifications load: %v", err)
	}

	if m.every > 0 {
		syncCtx, cancel := context.WithCancel(context.Background())
		m.stopSync = cancel
		go m.Presence.RunReconciler(syncCtx, m.every)
	}
	return nil
}

// Detach drops the subscriptions and disconnects. It returns once push
// handler work has finished or been cancelled.
func (m *Messenger) Detach() {
	m.mu.Lock()
	scope, stop := m.scope, m.stopSync
	m.scope, m.stopSync = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if scope != nil {
		scope.Close()
	}
	m.Channel.Disconnect()
	m.stopBackground()
	m.Presence.Stop()
}

// goBackground runs f on its own goroutine with a pushTimeout deadline.
// Nothing runs once the messenger is detached.
func (m *Messenger) goBackground(what string, f func(ctx context.Context) error) {
	m.bgMu.Lock()
	parent := m.bgCtx
	if parent == nil {
		m.bgMu.Unlock()
		return
	}
	m.bg.Add(1)
	m.bgMu.Unlock()

	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(parent, pushTimeout)
		defer cancel()
		if err := f(ctx); err != nil && parent.Err() == nil {
			m.logger.Warn("%s: %v", what, err)
		}
	}()
}

func (m *Messenger) stopBackground() {
	m.bgMu.Lock()
	cancel := m.bgCancel
	m.bgCtx, m.bgCancel = nil, nil
	m.bgMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.bg.Wait()
}

// Logout detaches and forgets the session.
func (m *Messenger) Logout() {
	m.Detach()
	m.Conversation.Close()
	m.Session.Clear()
}

func (m *Messenger) onMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Warn("bad receiveMessage payload: %v", err)
		return
	}
	if m.Conversation.Receive(msg) {
		// shown in the open conversation, so the backend must not keep it unread
		peer := msg.Sender
		m.goBackground("mark conversation read", func(ctx context.Context) error {
			return m.API.MarkConversationRead(ctx, peer)
		})
		return
	}
	m.Presence.OnMessage(msg, m.Conversation.Peer())
	sender, _ := m.Graph.Peer(msg.Sender)
	m.Inbox.OnMessagePush(msg, sender)
}

func (m *Messenger) onTyping(payload json.RawMessage) {
	var evt models.TypingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return
	}
	m.Presence.OnTyping(evt, m.Conversation.Peer())
}

func (m *Messenger) onNewConnection(payload json.RawMessage) {
	var req models.ConnectionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		m.logger.Warn("bad newConnection payload: %v", err)
		return
	}
	m.Inbox.OnConnectionPush(req)

	m.goBackground("refresh requests after push", func(ctx context.Context) error {
		_, err := m.Graph.PendingRequests(ctx)
		return err
	})
}

func (m *Messenger) onConnectionAccepted(json.RawMessage) {
	m.goBackground("refresh connections after accept", func(ctx context.Context) error {
		_, err := m.Graph.Connections(ctx)
		return err
	})
}

func (m *Messenger) onSystem(payload json.RawMessage) {
	var evt models.SystemEvent
	if err := json.Unmarshal(payload, &evt); err == nil {
		m.logger.Debug("server: %s", evt.Message)
	}
}

// Search lists users of role that can still be asked to connect.
func (m *Messenger) Search(ctx context.Context, role string) ([]models.User, error) {
	users, err := m.Graph.Search(ctx, role)
	return users, m.fail(err)
}

func (m *Messenger) RequestConnection(ctx context.Context, userID string) error {
	_, err := m.Graph.SendRequest(ctx, userID)
	return m.fail(err)
}

// Respond answers an incoming request and refreshes both lists.
func (m *Messenger) Respond(ctx context.Context, requestID string, accept bool) error {
	if _, err := m.Graph.RespondRequest(ctx, requestID, accept); err != nil {
		return m.fail(err)
	}
	return m.fail(m.Graph.Refresh(ctx))
}

// OpenPeer shows the conversation with peerID. Loading it marks the peer's
// messages read on the backend, so the local counter is cleared.
func (m *Messenger) OpenPeer(ctx context.Context, peerID string) error {
	m.Presence.Focus(peerID)
	if err := m.Conversation.Open(ctx, peerID); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Messenger) SendText(ctx context.Context, text string) (models.Message, error) {
	msg, err := m.Conversation.Send(ctx, text)
	return msg, m.fail(err)
}

func (m *Messenger) SendVoice(ctx context.Context, rec media.Recording) (models.Message, error) {
	msg, err := m.Conversation.SendVoice(ctx, rec)
	return msg, m.fail(err)
}

// SendRecording stops r and sends what it captured.
func (m *Messenger) SendRecording(ctx context.Context, r *media.Recorder) (models.Message, error) {
	if _, err := r.Stop(); err != nil {
		return models.Message{}, m.fail(errors.Wrap(err, "stop recording"))
	}
	rec, ok := r.Take()
	if !ok {
		return models.Message{}, nil
	}
	return m.SendVoice(ctx, rec)
}

// NotifyTyping tells the open peer the user is typing.
func (m *Messenger) NotifyTyping() error {
	peer := m.Conversation.Peer()
	if peer == "" {
		return nil
	}
	return m.Channel.Emit(models.EventTyping, models.TypingEvent{
		UserID:     m.Session.UserID(),
		ReceiverID: peer,
	})
}
