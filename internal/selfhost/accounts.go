package selfhost

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bakaf/pixel/internal/platform"
	"github.com/bakaf/pixel/internal/session"
)

// AccountRecord is a stored account.
type AccountRecord struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountRepository defines the data access contract for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account AccountRecord) error
	FindByID(ctx context.Context, id string) (AccountRecord, error)
	FindByEmail(ctx context.Context, email string) (AccountRecord, error)
}

// SessionRecord is a stored session. Token is the secret kept on the device.
type SessionRecord struct {
	ID        string
	Token     string
	AccountID string
	Provider  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore persists issued sessions so they survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session SessionRecord) error
	Find(ctx context.Context, token string) (SessionRecord, error)
	Delete(ctx context.Context, token string) error
}

// Accounts implements platform.AccountService with bcrypt password hashes and
// opaque session tokens. The device's token lives in a session.Store.
type Accounts struct {
	repo     AccountRepository
	sessions SessionStore
	device   session.Store
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

// NewAccounts wires an account service. ttl bounds session lifetime.
func NewAccounts(repo AccountRepository, sessions SessionStore, device session.Store, ttl time.Duration) *Accounts {
	if repo == nil || sessions == nil || device == nil {
		panic("selfhost: account repository, session store and device store must not be nil")
	}
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &Accounts{
		repo:     repo,
		sessions: sessions,
		device:   device,
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

func accountFromRecord(r AccountRecord) platform.Account {
	return platform.Account{ID: r.ID, Email: r.Email, Name: r.Name, CreatedAt: r.CreatedAt}
}

func sessionFromRecord(r SessionRecord) platform.Session {
	return platform.Session{
		ID:        r.ID,
		UserID:    r.AccountID,
		Provider:  r.Provider,
		Current:   true,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// Create registers a new account. It does not start a session.
func (a *Accounts) Create(ctx context.Context, id, email, password, name string) (platform.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return platform.Account{}, invalidArgument("Invalid `email` param: Value must be a valid email address")
	}
	if len(password) < 8 || len(password) > 256 {
		return platform.Account{}, invalidArgument("Invalid `password` param: Password must be between 8 and 256 characters long.")
	}
	if id == "" {
		id = platform.NewID()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return platform.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := a.now().UTC()
	record := AccountRecord{
		ID:           id,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.repo.Create(ctx, record); err != nil {
		if errors.Is(err, ErrConflict) {
			return platform.Account{}, errUserExists
		}
		return platform.Account{}, fmt.Errorf("create account: %w", err)
	}
	return accountFromRecord(record), nil
}

// current resolves the device's session. Stale tokens are forgotten.
func (a *Accounts) current(ctx context.Context) (SessionRecord, error) {
	token, err := a.device.Load(ctx)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load device session: %w", err)
	}
	if token == "" {
		return SessionRecord{}, errGuest
	}

	record, err := a.sessions.Find(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		_ = a.device.Clear(ctx)
		return SessionRecord{}, errGuest
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("find session: %w", err)
	}

	if a.now().UTC().After(record.ExpiresAt) {
		_ = a.sessions.Delete(ctx, token)
		_ = a.device.Clear(ctx)
		return SessionRecord{}, errGuest
	}
	return record, nil
}

// Get returns the account of the current session.
func (a *Accounts) Get(ctx context.Context) (platform.Account, error) {
	record, err := a.current(ctx)
	if err != nil {
		return platform.Account{}, err
	}
	account, err := a.repo.FindByID(ctx, record.AccountID)
	if errors.Is(err, ErrNotFound) {
		return platform.Account{}, errGuest
	}
	if err != nil {
		return platform.Account{}, fmt.Errorf("find account: %w", err)
	}
	return accountFromRecord(account), nil
}

// GetSession returns the current session. Only the device's own session is
// addressable.
func (a *Accounts) GetSession(ctx context.Context, sessionID string) (platform.Session, error) {
	record, err := a.current(ctx)
	if err != nil {
		return platform.Session{}, err
	}
	if sessionID != platform.CurrentSession && sessionID != record.ID {
		return platform.Session{}, errSessionNotFound
	}
	return sessionFromRecord(record), nil
}

// DeleteSession ends the current session and forgets the device token.
func (a *Accounts) DeleteSession(ctx context.Context, sessionID string) error {
	record, err := a.current(ctx)
	if err != nil {
		return err
	}
	if sessionID != platform.CurrentSession && sessionID != record.ID {
		return errSessionNotFound
	}

	if err := a.sessions.Delete(ctx, record.Token); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := a.device.Clear(ctx); err != nil {
		return fmt.Errorf("clear device session: %w", err)
	}
	return nil
}

// CreateEmailPasswordSession signs in. Like the hosted platform it refuses while
// the device already has an active session.
func (a *Accounts) CreateEmailPasswordSession(ctx context.Context, email, password string) (platform.Session, error) {
	if _, err := a.current(ctx); err == nil {
		return platform.Session{}, errSessionActive
	} else if !platform.IsUnauthorized(err) {
		return platform.Session{}, err
	}

	account, err := a.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return platform.Session{}, errInvalidCredentials
	}
	if err != nil {
		return platform.Session{}, fmt.Errorf("find account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return platform.Session{}, errInvalidCredentials
	}

	token, err := randomToken()
	if err != nil {
		return platform.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := a.now().UTC()
	record := SessionRecord{
		ID:        platform.NewID(),
		Token:     token,
		AccountID: account.ID,
		Provider:  "email",
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.sessions.Save(ctx, record); err != nil {
		return platform.Session{}, fmt.Errorf("save session: %w", err)
	}
	if err := a.device.Save(ctx, token); err != nil {
		return platform.Session{}, fmt.Errorf("save device session: %w", err)
	}
	return sessionFromRecord(record), nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ platform.AccountService = (*Accounts)(nil)
