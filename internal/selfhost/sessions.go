package selfhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewMemorySessionStore returns a SessionStore backed by an in-memory map.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

// MemorySessionStore implements SessionStore for tests and local development.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// Save persists the provided session record.
func (s *MemorySessionStore) Save(_ context.Context, session SessionRecord) error {
	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()
	return nil
}

// Find loads a session by token.
func (s *MemorySessionStore) Find(_ context.Context, token string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes a session by token.
func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, token)
	return nil
}

// RedisSessionStore keeps sessions in Redis. Keys expire with the session.
type RedisSessionStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisSessionStore creates a store that namespaces its keys with prefix.
func NewRedisSessionStore(client redis.Cmdable, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "pixel"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) key(token string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, token)
}

type redisSession struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Save stores the session until it expires.
func (s *RedisSessionStore) Save(ctx context.Context, session SessionRecord) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save session: already expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}

	payload, err := json.Marshal(redisSession{
		ID:        session.ID,
		AccountID: session.AccountID,
		Provider:  session.Provider,
		CreatedAt: session.CreatedAt.UTC(),
		ExpiresAt: session.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(session.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set session in redis: %w", err)
	}
	return nil
}

// Find loads a session by token.
func (s *RedisSessionStore) Find(ctx context.Context, token string) (SessionRecord, error) {
	payload, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session from redis: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		return SessionRecord{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return SessionRecord{
		ID:        stored.ID,
		Token:     token,
		AccountID: stored.AccountID,
		Provider:  stored.Provider,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

// Delete removes a session by token.
func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	n, err := s.client.Del(ctx, s.key(token)).Result()
	if err != nil {
		return fmt.Errorf("delete session from redis: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

var (
	_ SessionStore = (*MemorySessionStore)(nil)
	_ SessionStore = (*RedisSessionStore)(nil)
)
