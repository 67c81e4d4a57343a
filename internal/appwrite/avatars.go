package appwrite

import (
	"context"
	"net/url"

	"github.com/bakaf/pixel/internal/platform"
)

// Avatars implements platform.AvatarService.
type Avatars struct {
	c *Client
}

// GetInitials returns the URL of an initials avatar for name. No request is made.
func (a *Avatars) GetInitials(_ context.Context, name string) (string, error) {
	return a.c.projectURL("/avatars/initials", url.Values{"name": {name}}), nil
}

var _ platform.AvatarService = (*Avatars)(nil)
