package realtime

import "sync"

// Scope owns a set of subscriptions. Close removes exactly the handlers
// registered through it, so a component subscribes on attach and closes its
// scope on detach.
type Scope struct {
	ch *Channel

	mu     sync.Mutex
	subs   []scoped
	closed bool
}

type scoped struct {
	event string
	id    uint64
}

func (c *Channel) NewScope() *Scope {
	return &Scope{ch: c}
}

// On subscribes fn to event. Handlers are not deduplicated: subscribing the
// same function twice calls it twice. On after Close is ignored.
func (s *Scope) On(event string, fn Handler) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s
	}
	id := s.ch.subscribe(event, fn)
	s.subs = append(s.subs, scoped{event: event, id: id})
	return s
}

func (s *Scope) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		s.ch.unsubscribe(sub.event, sub.id)
	}
}
