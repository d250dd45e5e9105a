// Package conversation holds the history of the one open conversation and
// reconciles fetched history, live pushes and local sends into it.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolchat/internal/apperr"
	"schoolchat/internal/logger"
	"schoolchat/internal/media"
	"schoolchat/internal/models"
)

type API interface {
	Messages(ctx context.Context, peerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (models.Message, error)
}

type Emitter interface {
	Emit(event string, payload interface{}) error
}

// Identity names the local user. *session.Session satisfies it.
type Identity interface {
	UserID() string
}

type Store struct {
	api    API
	emit   Emitter
	self   Identity
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	peer     string
	gen      uint64
	messages []models.Message
}

func New(api API, emit Emitter, self Identity, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{api: api, emit: emit, self: self, logger: log, now: time.Now}
}

// Open makes peerID the active conversation, drops whatever was shown before
// and loads the full history. A load that finishes after another Open is
// discarded.
func (s *Store) Open(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.peer = peerID
	s.messages = nil
	s.mu.Unlock()

	return s.load(ctx, gen, peerID)
}

// Refresh refetches the active conversation through the same merge as Open.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	gen, peer := s.gen, s.peer
	s.mu.Unlock()
	if peer == "" {
		return nil
	}
	return s.load(ctx, gen, peer)
}

func (s *Store) load(ctx context.Context, gen uint64, peerID string) error {
	fetched, err := s.api.Messages(ctx, peerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.logger.Debug("dropping stale history for %s", peerID)
		return nil
	}
	s.messages = merge(fetched, s.messages)
	return nil
}

// merge keeps the fetched order and appends, in their existing order, local
// entries the fetch did not contain. Entries are matched by _id; entries
// without one (pending sends) always survive.
func merge(fetched, local []models.Message) []models.Message {
	seen := make(map[string]bool, len(fetched))
	out := make([]models.Message, 0, len(fetched)+len(local))
	for _, m := range fetched {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	for _, m := range local {
		if m.ID != "" {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
		}
		out = append(out, m)
	}
	return out
}

// Receive applies a pushed message. It reports whether the message belongs
// to the open conversation; a false result means the caller should count it
// as unread instead.
func (s *Store) Receive(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == "" || msg.Sender != s.peer {
		return false
	}
	if msg.ID != "" && s.indexOf(msg.ID) >= 0 {
		return true
	}
	s.messages = append(s.messages, msg)
	return true
}

// Send persists text to the open peer and then announces it on the channel.
// Blank text or no open conversation does nothing.
func (s *Store) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, nil
	}
	return s.send(ctx, models.SendMessageRequest{Message: text, Type: models.MessageText})
}

// SendVoice sends a stopped recording as a voice message.
func (s *Store) SendVoice(ctx context.Context, rec media.Recording) (models.Message, error) {
	if len(rec.Data) == 0 {
		return models.Message{}, nil
	}
	return s.send(ctx, models.SendMessageRequest{
		Message:  models.VoiceMessageText,
		Type:     models.MessageVoice,
		AudioURL: rec.DataURL(),
		Duration: rec.Duration,
	})
}

func (s *Store) send(ctx context.Context, req models.SendMessageRequest) (models.Message, error) {
	self := s.self.UserID()

	s.mu.Lock()
	peer := s.peer
	if peer == "" {
		s.mu.Unlock()
		return models.Message{}, nil
	}
	req.Receiver = peer
	pending := models.Message{
		ClientID:  uuid.NewString(),
		Pending:   true,
		Sender:    self,
		Receiver:  peer,
		Message:   req.Message,
		Type:      req.Type,
		AudioURL:  req.AudioURL,
		Duration:  req.Duration,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, pending)
	s.mu.Unlock()

	confirmed, err := s.api.SendMessage(ctx, req)

	s.mu.Lock()
	idx := s.indexOfClient(pending.ClientID)
	if err != nil {
		if idx >= 0 {
			s.removeAt(idx)
		}
		s.mu.Unlock()
		if apperr.KindOf(err) == apperr.Unknown {
			err = apperr.Wrap(apperr.NetworkFailure, err, "")
		}
		return models.Message{}, err
	}
	if idx >= 0 {
		// a refresh may already have brought the confirmed copy in
		if confirmed.ID != "" && s.indexOf(confirmed.ID) >= 0 {
			s.removeAt(idx)
		} else {
			s.messages[idx] = confirmed
		}
	}
	s.mu.Unlock()

	confirmed.Sender = self
	confirmed.Receiver = peer
	if err := s.emit.Emit(models.EventSendMessage, confirmed); err != nil {
		s.logger.Warn("message %s saved but not pushed to %s: %v", confirmed.ID, peer, err)
	}
	return confirmed, nil
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfClient(clientID string) int {
	for i, m := range s.messages {
		if m.Pending && m.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
}

func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

func (s *Store) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Close forgets the open conversation.
func (s *Store) Close() {
	s.mu.Lock()
	s.gen++
	s.peer = ""
	s.messages = nil
	s.mu.Unlock()
}
