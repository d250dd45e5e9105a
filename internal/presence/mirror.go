// Package presence mirrors server-side unread counts, typing signals and the
// notification inbox into local state fed by realtime pushes.
package presence

import (
	"context"
	"sync"
	"time"

	"schoolchat/internal/logger"
	"schoolchat/internal/models"
)

const DefaultTypingTimeout = 3 * time.Second

type Timer interface {
	Stop() bool
}

// Clock schedules the typing expiry. Tests swap in a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type UnreadAPI interface {
	UnreadCounts(ctx context.Context) (map[string]int, error)
}

type Mirror struct {
	api           UnreadAPI
	clock         Clock
	typingTimeout time.Duration
	logger        *logger.Logger

	mu     sync.Mutex
	counts map[string]int
	focus  string

	typing    bool
	typingGen uint64
	timer     Timer
}

// NewMirror returns an empty mirror. A nil clock uses the wall clock and a
// non-positive timeout uses DefaultTypingTimeout.
func NewMirror(api UnreadAPI, clock Clock, typingTimeout time.Duration, log *logger.Logger) *Mirror {
	if clock == nil {
		clock = systemClock{}
	}
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Mirror{
		api:           api,
		clock:         clock,
		typingTimeout: typingTimeout,
		logger:        log,
		counts:        make(map[string]int),
	}
}

// Reconcile replaces every counter with the backend's aggregate. The focused
// conversation stays at zero since it is being read.
func (m *Mirror) Reconcile(ctx context.Context) error {
	counts, err := m.api.UnreadCounts(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[string]int, len(counts))
	for peer, n := range counts {
		if peer != m.focus && n > 0 {
			m.counts[peer] = n
		}
	}
	return nil
}

// RunReconciler reconciles every interval until ctx is done.
func (m *Mirror) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := m.Reconcile(tickCtx)
			cancel()
			if err != nil {
				m.logger.Warn("unread reconcile failed: %v", err)
			}
		}
	}
}

// OnMessage counts a pushed message unless it comes from the open peer.
func (m *Mirror) OnMessage(msg models.Message, openPeer string) {
	if msg.Sender == "" || msg.Sender == openPeer {
		return
	}
	m.mu.Lock()
	m.counts[msg.Sender]++
	m.mu.Unlock()
}

func (m *Mirror) ClearUnread(peerID string) {
	m.mu.Lock()
	delete(m.counts, peerID)
	m.mu.Unlock()
}

// Focus marks peerID as the conversation on screen: its counter is cleared
// and kept clear across reconciles, and any typing signal is dropped.
func (m *Mirror) Focus(peerID string) {
	m.mu.Lock()
	m.focus = peerID
	delete(m.counts, peerID)
	m.stopTypingLocked()
	m.mu.Unlock()
}

func (m *Mirror) Unread(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[peerID]
}

func (m *Mirror) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// OnTyping shows the open peer as typing and (re)arms the expiry. Each push
// restarts the full timeout.
func (m *Mirror) OnTyping(evt models.TypingEvent, openPeer string) {
	if openPeer == "" || evt.UserID != openPeer {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.typing = true
	m.typingGen++
	gen := m.typingGen
	m.timer = m.clock.AfterFunc(m.typingTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.typingGen == gen {
			m.typing = false
			m.timer = nil
		}
	})
}

func (m *Mirror) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// Stop cancels the pending typing expiry.
func (m *Mirror) Stop() {
	m.mu.Lock()
	m.stopTypingLocked()
	m.mu.Unlock()
}

func (m *Mirror) stopTypingLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.typingGen++
	m.typing = false
}
