package memory

import (
	"context"
	"sync"
)

// CredentialStore keeps the token in process memory. Not durable.
type CredentialStore struct {
	mu    sync.Mutex
	token string
	Saves int
}

func NewCredentialStore(token string) *CredentialStore {
	return &CredentialStore{token: token}
}

func (s *CredentialStore) Load(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *CredentialStore) Save(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.Saves++
	return nil
}

func (s *CredentialStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// Token returns the currently stored value.
func (s *CredentialStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}
