package backend

import (
	"testing"
	"time"

	"github.com/bakaf/pixel/internal/models"
	"github.com/bakaf/pixel/internal/platform"
)

func TestPostFromDocumentCreatorForms(t *testing.T) {
	created := time.Date(2024, 11, 26, 10, 0, 0, 0, time.UTC)
	base := map[string]any{
		models.PostAttrTitle:     "clip",
		models.PostAttrThumbnail: "https://cdn/thumb",
		models.PostAttrVideo:     "https://cdn/video",
		models.PostAttrPrompt:    "a prompt",
	}

	withID := map[string]any{models.PostAttrCreator: "profile-1"}
	for k, v := range base {
		withID[k] = v
	}
	post := postFromDocument(platform.Document{ID: "p1", CreatedAt: created, Data: withID})
	if post.CreatorID != "profile-1" || post.Creator != nil {
		t.Fatalf("unexpected creator decoding: %+v", post)
	}
	if post.Title != "clip" || post.ThumbnailURL != "https://cdn/thumb" || post.VideoURL != "https://cdn/video" || post.Prompt != "a prompt" {
		t.Fatalf("unexpected post fields: %+v", post)
	}
	if !post.CreatedAt.Equal(created) {
		t.Fatalf("expected created at %v, got %v", created, post.CreatedAt)
	}

	expanded := map[string]any{models.PostAttrCreator: map[string]any{
		"$id":                    "profile-2",
		models.UserAttrAccountID: "acc-2",
		models.UserAttrUsername:  "bob",
		models.UserAttrAvatar:    "https://cdn/avatar",
	}}
	post = postFromDocument(platform.Document{ID: "p2", Data: expanded})
	if post.CreatorID != "profile-2" {
		t.Fatalf("expected creator id from expanded document, got %q", post.CreatorID)
	}
	if post.Creator == nil || post.Creator.Username != "bob" || post.Creator.AccountID != "acc-2" {
		t.Fatalf("expected expanded creator profile, got %+v", post.Creator)
	}
}

func TestPostFromDocumentMissingFields(t *testing.T) {
	post := postFromDocument(platform.Document{ID: "p3", Data: map[string]any{models.PostAttrTitle: nil}})
	if post.ID != "p3" || post.Title != "" || post.CreatorID != "" || post.Creator != nil {
		t.Fatalf("expected empty fields, got %+v", post)
	}
}

func TestStringField(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := map[string]any{"s": "text", "n": 42, "t": when}
	if got := stringField(m, "s"); got != "text" {
		t.Fatalf("string: got %q", got)
	}
	if got := stringField(m, "n"); got != "42" {
		t.Fatalf("number: got %q", got)
	}
	if got := stringField(m, "t"); got != "2024-01-02T03:04:05Z" {
		t.Fatalf("time: got %q", got)
	}
	if got := stringField(m, "missing"); got != "" {
		t.Fatalf("missing: got %q", got)
	}
}
