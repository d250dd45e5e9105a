// Package session holds the signed-in user and token for one client. It is
// passed to the components that need it instead of living in a global.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"schoolchat/internal/models"
)

type Session struct {
	mu    sync.RWMutex
	user  models.User
	token string
}

func New() *Session {
	return &Session{}
}

func (s *Session) SetAuth(user models.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.token = token
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = models.User{}
	s.token = ""
}

func (s *Session) User() models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user.ID != ""
}

type persisted struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Save writes the token and user to path. Nothing else is persisted locally.
func (s *Session) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(persisted{Token: s.token, User: s.user}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "create session dir")
	}
	return errors.Wrap(os.WriteFile(path, data, 0600), "write session")
}

// Load reads a session written by Save. A missing file yields an empty,
// unauthenticated session.
func Load(path string) (*Session, error) {
	s := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	s.SetAuth(p.User, p.Token)
	return s, nil
}
