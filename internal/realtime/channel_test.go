package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/apperr"
	"schoolchat/internal/models"
	"schoolchat/internal/session"
)

// fakeServer accepts sockets, records inbound frames and can push frames.
type fakeServer struct {
	srv      *httptest.Server
	dials    atomic.Int32
	inbound  chan models.InboundMessage
	mu       sync.Mutex
	conns    []*websocket.Conn
	lastAuth string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{inbound: make(chan models.InboundMessage, 16)}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.dials.Add(1)
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.lastAuth = r.URL.Query().Get("token")
		fs.mu.Unlock()
		go func() {
			for {
				var in models.InboundMessage
				if err := conn.ReadJSON(&in); err != nil {
					return
				}
				fs.inbound <- in
			}
		}()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/ws"
}

func (fs *fakeServer) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.conns)
	require.NoError(t, fs.conns[len(fs.conns)-1].WriteJSON(models.WebSocketMessage{Type: event, Payload: payload}))
}

func (fs *fakeServer) next(t *testing.T) models.InboundMessage {
	t.Helper()
	select {
	case in := <-fs.inbound:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return models.InboundMessage{}
	}
}

func newChannel(t *testing.T, fs *fakeServer) *Channel {
	t.Helper()
	sess := session.New()
	sess.SetAuth(models.User{ID: "u1"}, "tok")
	ch := New(fs.url(), sess, nil)
	t.Cleanup(ch.Disconnect)
	return ch
}

func TestConnectRegistersOnceAndIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	ch := newChannel(t, fs)

	require.NoError(t, ch.Connect(context.Background(), "u1"))
	require.NoError(t, ch.Connect(context.Background(), "u1"))
	assert.True(t, ch.Connected())

	in := fs.next(t)
	assert.Equal(t, models.EventRegister, in.Type)
	var reg models.RegisterEvent
	require.NoError(t, json.Unmarshal(in.Payload, &reg))
	assert.Equal(t, "u1", reg.UserID)

	assert.Equal(t, int32(1), fs.dials.Load())
	fs.mu.Lock()
	assert.Equal(t, "tok", fs.lastAuth)
	fs.mu.Unlock()
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	ch := newChannel(t, fs)

	ch.Disconnect()
	require.NoError(t, ch.Connect(context.Background(), "u1"))
	ch.Disconnect()
	ch.Disconnect()
	assert.False(t, ch.Connected())

	err := ch.Emit(models.EventTyping, models.TypingEvent{ReceiverID: "x"})
	assert.True(t, apperr.Is(err, apperr.NetworkFailure))
}

func TestConnectFailure(t *testing.T) {
	ch := New("ws://127.0.0.1:1/ws", session.New(), nil)
	err := ch.Connect(context.Background(), "u1")
	assert.True(t, apperr.Is(err, apperr.NetworkFailure))
	assert.False(t, ch.Connected())
}

func TestEmit(t *testing.T) {
	fs := newFakeServer(t)
	ch := newChannel(t, fs)
	require.NoError(t, ch.Connect(context.Background(), "u1"))
	fs.next(t) // register

	require.NoError(t, ch.Emit(models.EventSendMessage, models.Message{ID: "m1", Sender: "u1", Receiver: "u2", Message: "Hello"}))
	in := fs.next(t)
	assert.Equal(t, models.EventSendMessage, in.Type)
	var msg models.Message
	require.NoError(t, json.Unmarshal(in.Payload, &msg))
	assert.Equal(t, "u2", msg.Receiver)
}

func TestScopesOwnTheirHandlers(t *testing.T) {
	fs := newFakeServer(t)
	ch := newChannel(t, fs)

	var first, second atomic.Int32
	got := make(chan struct{}, 8)
	a := ch.NewScope().
		On(models.EventReceiveMessage, func(json.RawMessage) { first.Add(1); got <- struct{}{} })
	b := ch.NewScope()
	handler := func(json.RawMessage) { second.Add(1); got <- struct{}{} }
	// no central dedup: the same handler twice runs twice
	b.On(models.EventReceiveMessage, handler).On(models.EventReceiveMessage, handler)
	assert.Equal(t, 3, ch.HandlerCount(models.EventReceiveMessage))

	require.NoError(t, ch.Connect(context.Background(), "u1"))
	fs.next(t)

	fs.push(t, models.EventReceiveMessage, models.Message{ID: "m1"})
	for i := 0; i < 3; i++ {
		<-got
	}
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(2), second.Load())

	b.Close()
	b.Close()
	assert.Equal(t, 1, ch.HandlerCount(models.EventReceiveMessage))

	fs.push(t, models.EventReceiveMessage, models.Message{ID: "m2"})
	<-got
	assert.Equal(t, int32(2), first.Load())
	assert.Equal(t, int32(2), second.Load())

	a.Close()
	assert.Equal(t, 0, ch.HandlerCount(models.EventReceiveMessage))
	// a closed scope stays closed
	a.On(models.EventReceiveMessage, handler)
	assert.Equal(t, 0, ch.HandlerCount(models.EventReceiveMessage))
}

func TestServerCloseLeavesChannelDisconnected(t *testing.T) {
	fs := newFakeServer(t)
	ch := newChannel(t, fs)
	require.NoError(t, ch.Connect(context.Background(), "u1"))
	fs.next(t)

	fs.mu.Lock()
	fs.conns[0].Close()
	fs.mu.Unlock()

	assert.Eventually(t, func() bool { return !ch.Connected() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Connect(context.Background(), "u1"))
	assert.Equal(t, int32(2), fs.dials.Load())
}
