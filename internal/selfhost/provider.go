// Package selfhost provides the platform capability set on self-hosted
// infrastructure: accounts and sessions in PostgreSQL or Redis, documents in
// PostgreSQL or MongoDB, and files in S3-compatible storage.
package selfhost

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/bakaf/pixel/internal/platform"
)

// Avatars derives initials avatars from an external renderer.
type Avatars struct {
	baseURL string
}

// NewAvatars returns nil when no renderer is configured; the backend treats a nil
// avatar service as optional.
func NewAvatars(baseURL string) *Avatars {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &Avatars{baseURL: baseURL}
}

// GetInitials returns <base>?name=<name>.
func (a *Avatars) GetInitials(_ context.Context, name string) (string, error) {
	sep := "?"
	if strings.Contains(a.baseURL, "?") {
		sep = "&"
	}
	return a.baseURL + sep + url.Values{"name": {name}}.Encode(), nil
}

// Provider groups the self-hosted services.
type Provider struct {
	Accounts  *Accounts
	Documents platform.DocumentService
	Files     platform.StorageService
	Avatars   *Avatars
}

// Services returns the provider as a platform client.
func (p *Provider) Services() (platform.Client, error) {
	if p.Accounts == nil || p.Documents == nil || p.Files == nil {
		return platform.Client{}, errors.New("selfhost: accounts, documents and files are required")
	}
	client := platform.Client{
		Account:   p.Accounts,
		Documents: p.Documents,
		Storage:   p.Files,
	}
	if p.Avatars != nil {
		client.Avatars = p.Avatars
	}
	return client, nil
}

var _ platform.AvatarService = (*Avatars)(nil)
