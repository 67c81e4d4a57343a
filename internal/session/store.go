// Package session keeps the secret that identifies the device's current session
// between backend calls.
package session

import (
	"context"
	"sync"
)

// Store persists the current session secret. Load returns an empty string when no
// session has been saved.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, secret string) error
	Clear(ctx context.Context) error
}

// NewMemoryStore returns a Store that lives only as long as the process.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// MemoryStore implements Store for tests and short-lived processes.
type MemoryStore struct {
	mu     sync.RWMutex
	secret string
}

// Load returns the saved secret.
func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret, nil
}

// Save replaces the saved secret.
func (s *MemoryStore) Save(_ context.Context, secret string) error {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	return nil
}

// Clear forgets the saved secret.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.secret = ""
	s.mu.Unlock()
	return nil
}
