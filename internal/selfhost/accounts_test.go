package selfhost

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bakaf/pixel/internal/platform"
	"github.com/bakaf/pixel/internal/session"
)

type stubAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]AccountRecord
}

func newStubAccountRepository() *stubAccountRepository {
	return &stubAccountRepository{accounts: make(map[string]AccountRecord)}
}

func (r *stubAccountRepository) Create(_ context.Context, account AccountRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Email == account.Email || existing.ID == account.ID {
			return ErrConflict
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *stubAccountRepository) FindByID(_ context.Context, id string) (AccountRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return AccountRecord{}, ErrNotFound
	}
	return account, nil
}

func (r *stubAccountRepository) FindByEmail(_ context.Context, email string) (AccountRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return AccountRecord{}, ErrNotFound
}

func newTestAccounts(t *testing.T) (*Accounts, *MemorySessionStore, *session.MemoryStore) {
	t.Helper()
	sessions := NewMemorySessionStore()
	device := session.NewMemoryStore()
	accounts := NewAccounts(newStubAccountRepository(), sessions, device, time.Hour)
	accounts.cost = bcrypt.MinCost
	return accounts, sessions, device
}

func platformCode(err error) int {
	var pErr *platform.Error
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return 0
}

func TestAccountsCreate(t *testing.T) {
	ctx := context.Background()
	accounts, _, device := newTestAccounts(t)

	created, err := accounts.Create(ctx, "acc-1", " Alice@Example.com ", "password123", "alice")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if created.ID != "acc-1" || created.Email != "alice@example.com" || created.Name != "alice" {
		t.Fatalf("unexpected account: %+v", created)
	}
	if secret, _ := device.Load(ctx); secret != "" {
		t.Fatal("creating an account must not start a session")
	}

	if _, err := accounts.Create(ctx, "acc-2", "alice@example.com", "password123", "again"); !platform.IsConflict(err) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
	if _, err := accounts.Create(ctx, "acc-3", "not-an-email", "password123", "x"); platformCode(err) != http.StatusBadRequest {
		t.Fatalf("expected bad request for invalid email, got %v", err)
	}
	if _, err := accounts.Create(ctx, "acc-4", "bob@example.com", "short", "bob"); platformCode(err) != http.StatusBadRequest {
		t.Fatalf("expected bad request for short password, got %v", err)
	}

	generated, err := accounts.Create(ctx, "", "carol@example.com", "password123", "carol")
	if err != nil {
		t.Fatalf("create account without id: %v", err)
	}
	if generated.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestAccountsSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	accounts, sessions, device := newTestAccounts(t)

	if _, err := accounts.Create(ctx, "acc-1", "alice@example.com", "password123", "alice"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := accounts.Get(ctx); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized as guest, got %v", err)
	}
	if _, err := accounts.GetSession(ctx, platform.CurrentSession); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized session probe as guest, got %v", err)
	}

	if _, err := accounts.CreateEmailPasswordSession(ctx, "alice@example.com", "wrong-password"); !platform.IsUnauthorized(err) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := accounts.CreateEmailPasswordSession(ctx, "nobody@example.com", "password123"); !platform.IsUnauthorized(err) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	s, err := accounts.CreateEmailPasswordSession(ctx, "ALICE@example.com", "password123")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s.UserID != "acc-1" || !s.Current || s.Provider != "email" {
		t.Fatalf("unexpected session: %+v", s)
	}
	token, _ := device.Load(ctx)
	if token == "" {
		t.Fatal("expected the device to hold the session token")
	}
	if _, err := sessions.Find(ctx, token); err != nil {
		t.Fatalf("expected the session to be stored: %v", err)
	}

	_, err = accounts.CreateEmailPasswordSession(ctx, "alice@example.com", "password123")
	var pErr *platform.Error
	if !errors.As(err, &pErr) || pErr.Type != "user_session_already_exists" {
		t.Fatalf("expected active session refusal, got %v", err)
	}

	acc, err := accounts.Get(ctx)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.ID != "acc-1" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	current, err := accounts.GetSession(ctx, platform.CurrentSession)
	if err != nil || current.ID != s.ID {
		t.Fatalf("expected current session %s, got %+v (%v)", s.ID, current, err)
	}
	if byID, err := accounts.GetSession(ctx, s.ID); err != nil || byID.ID != s.ID {
		t.Fatalf("expected session by id, got %+v (%v)", byID, err)
	}
	if _, err := accounts.GetSession(ctx, "other"); !platform.IsNotFound(err) {
		t.Fatalf("expected not found for foreign session id, got %v", err)
	}

	if err := accounts.DeleteSession(ctx, platform.CurrentSession); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if token, _ := device.Load(ctx); token != "" {
		t.Fatal("expected device token to be cleared")
	}
	if _, err := accounts.Get(ctx); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized after sign out, got %v", err)
	}
	if err := accounts.DeleteSession(ctx, platform.CurrentSession); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized deleting without session, got %v", err)
	}
}

func TestAccountsExpiredSession(t *testing.T) {
	ctx := context.Background()
	accounts, sessions, device := newTestAccounts(t)

	if _, err := accounts.Create(ctx, "acc-1", "alice@example.com", "password123", "alice"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := accounts.CreateEmailPasswordSession(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	token, _ := device.Load(ctx)

	later := time.Now().Add(2 * time.Hour)
	accounts.now = func() time.Time { return later }

	if _, err := accounts.Get(ctx); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for expired session, got %v", err)
	}
	if _, err := sessions.Find(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be removed, got %v", err)
	}
	if secret, _ := device.Load(ctx); secret != "" {
		t.Fatal("expected expired token to be forgotten")
	}

	if _, err := accounts.CreateEmailPasswordSession(ctx, "alice@example.com", "password123"); err != nil {
		t.Fatalf("expected a new session after expiry: %v", err)
	}
}

func TestAccountsForgetUnknownToken(t *testing.T) {
	ctx := context.Background()
	accounts, _, device := newTestAccounts(t)
	_ = device.Save(ctx, "stale-token")

	if _, err := accounts.Get(ctx); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized for unknown token, got %v", err)
	}
	if secret, _ := device.Load(ctx); secret != "" {
		t.Fatal("expected the stale token to be cleared")
	}
}

func TestMemorySessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	record := SessionRecord{ID: "s1", Token: "t1", AccountID: "a1", ExpiresAt: time.Now().Add(time.Hour)}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Find(ctx, "t1")
	if err != nil || loaded.AccountID != "a1" {
		t.Fatalf("unexpected find result %+v (%v)", loaded, err)
	}
	if err := store.Delete(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "t1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}
