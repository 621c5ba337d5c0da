// Package session holds the authentication credential and the confirmed
// identity of the current user for the lifetime of the client.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"messenger/internal/domain/chat"
)

var ErrTokenRequired = errors.New("session: token is required")

// CredentialStore persists the credential across client runs.
// Load returns "" with a nil error when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// Session is the authenticated state: a credential plus a confirmed identity.
type Session struct {
	User  chat.User
	Token string
}

// Store owns the credential and identity. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	creds     CredentialStore
	token     string
	user      *chat.User
	listeners map[int]func()
	nextID    int
}

// NewStore loads any persisted credential. A missing credential is not an error.
func NewStore(ctx context.Context, creds CredentialStore) (*Store, error) {
	s := &Store{creds: creds, listeners: make(map[int]func())}
	if creds == nil {
		return s, nil
	}
	token, err := creds.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.token = strings.TrimSpace(token)
	return s, nil
}

// Credential returns the stored token, if any.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetCredential stores a freshly issued token. Any previously confirmed
// identity is dropped because it belonged to the old credential.
func (s *Store) SetCredential(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}
	if s.creds != nil {
		if err := s.creds.Save(ctx, token); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.token = token
	s.user = nil
	s.mu.Unlock()
	return nil
}

// SetUser records the identity confirmed for the current credential.
func (s *Store) SetUser(u chat.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return
	}
	cp := u
	s.user = &cp
}

// Current returns the session when both a credential and an identity exist.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || s.user == nil {
		return Session{}, false
	}
	return Session{User: *s.user, Token: s.token}, true
}

// OnClear registers fn to run whenever the session is cleared.
func (s *Store) OnClear(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Clear drops the credential and identity and notifies listeners. The in-memory
// state is cleared even when removing the durable copy fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	hadToken := s.token != ""
	s.token = ""
	s.user = nil
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	var err error
	if s.creds != nil {
		err = s.creds.Delete(ctx)
	}
	if hadToken {
		for _, fn := range fns {
			fn()
		}
	}
	return err
}
