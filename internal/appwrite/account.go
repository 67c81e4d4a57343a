package appwrite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bakaf/pixel/internal/platform"
)

// Account implements platform.AccountService over the /account routes.
type Account struct {
	c *Client
}

type accountJSON struct {
	ID        string `json:"$id"`
	CreatedAt string `json:"$createdAt"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

func (a accountJSON) platform() platform.Account {
	return platform.Account{ID: a.ID, Email: a.Email, Name: a.Name, CreatedAt: parseTime(a.CreatedAt)}
}

type sessionJSON struct {
	ID        string `json:"$id"`
	CreatedAt string `json:"$createdAt"`
	UserID    string `json:"userId"`
	Expire    string `json:"expire"`
	Provider  string `json:"provider"`
	Current   bool   `json:"current"`
}

func (s sessionJSON) platform() platform.Session {
	return platform.Session{
		ID:        s.ID,
		UserID:    s.UserID,
		Provider:  s.Provider,
		Current:   s.Current,
		CreatedAt: parseTime(s.CreatedAt),
		ExpiresAt: parseTime(s.Expire),
	}
}

// Create registers a new account.
func (a *Account) Create(ctx context.Context, id, email, password, name string) (platform.Account, error) {
	body, err := jsonBody(map[string]string{
		"userId":   id,
		"email":    email,
		"password": password,
		"name":     name,
	})
	if err != nil {
		return platform.Account{}, err
	}

	var out accountJSON
	if err := a.c.do(ctx, request{method: http.MethodPost, route: "/account", path: "/account", body: body}, &out); err != nil {
		return platform.Account{}, err
	}
	return out.platform(), nil
}

// Get returns the signed-in account.
func (a *Account) Get(ctx context.Context) (platform.Account, error) {
	var out accountJSON
	if err := a.c.do(ctx, request{method: http.MethodGet, route: "/account", path: "/account"}, &out); err != nil {
		return platform.Account{}, err
	}
	return out.platform(), nil
}

// GetSession returns a session of the signed-in account.
func (a *Account) GetSession(ctx context.Context, sessionID string) (platform.Session, error) {
	var out sessionJSON
	req := request{
		method: http.MethodGet,
		route:  "/account/sessions/{sessionId}",
		path:   "/account/sessions/" + url.PathEscape(sessionID),
	}
	if err := a.c.do(ctx, req, &out); err != nil {
		return platform.Session{}, err
	}
	return out.platform(), nil
}

// DeleteSession ends a session. Ending the current session also forgets the
// stored session secret.
func (a *Account) DeleteSession(ctx context.Context, sessionID string) error {
	req := request{
		method: http.MethodDelete,
		route:  "/account/sessions/{sessionId}",
		path:   "/account/sessions/" + url.PathEscape(sessionID),
	}
	if err := a.c.do(ctx, req, nil); err != nil {
		return err
	}
	if sessionID == platform.CurrentSession {
		if err := a.c.sessions.Clear(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}
	return nil
}

// CreateEmailPasswordSession signs in with email and password. The session secret
// arrives in the fallback cookie header and is persisted by the client.
func (a *Account) CreateEmailPasswordSession(ctx context.Context, email, password string) (platform.Session, error) {
	body, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return platform.Session{}, err
	}

	var out sessionJSON
	req := request{method: http.MethodPost, route: "/account/sessions/email", path: "/account/sessions/email", body: body}
	if err := a.c.do(ctx, req, &out); err != nil {
		return platform.Session{}, err
	}
	return out.platform(), nil
}

var _ platform.AccountService = (*Account)(nil)
