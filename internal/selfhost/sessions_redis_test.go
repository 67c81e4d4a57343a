package selfhost

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Set PIXEL_TEST_REDIS_ADDR to run against a live Redis.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("PIXEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PIXEL_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return client
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	store := NewRedisSessionStore(client, "pixel-test-"+uuid.NewString())

	record := SessionRecord{
		ID:        "s1",
		Token:     "token-1",
		AccountID: "acc-1",
		Provider:  "email",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().Add(time.Minute).UTC().Truncate(time.Second),
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save session: %v", err)
	}

	ttl, err := client.TTL(ctx, store.key("token-1")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected key to expire with the session, got %v (%v)", ttl, err)
	}

	loaded, err := store.Find(ctx, "token-1")
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if loaded.ID != record.ID || loaded.AccountID != record.AccountID || !loaded.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	if err := store.Delete(ctx, "token-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.Find(ctx, "token-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "token-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}

	expired := record
	expired.ExpiresAt = time.Now().Add(-time.Second)
	if err := store.Save(ctx, expired); err == nil {
		t.Fatal("expected an expired session to be rejected")
	}
}

func TestRedisSessionStoreKeys(t *testing.T) {
	store := NewRedisSessionStore(nil, "")
	if got := store.key("abc"); got != "pixel:session:abc" {
		t.Fatalf("unexpected key %s", got)
	}
}
