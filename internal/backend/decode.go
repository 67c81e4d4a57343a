package backend

import (
	"fmt"
	"time"

	"github.com/bakaf/pixel/internal/models"
	"github.com/bakaf/pixel/internal/platform"
)

func accountFromPlatform(a platform.Account) models.Account {
	return models.Account{ID: a.ID, Email: a.Email, Username: a.Name, CreatedAt: a.CreatedAt}
}

func sessionFromPlatform(s platform.Session) models.Session {
	return models.Session{ID: s.ID, AccountID: s.UserID, ExpiresAt: s.ExpiresAt}
}

func profileFromDocument(doc platform.Document) models.UserProfile {
	return models.UserProfile{
		ID:        doc.ID,
		AccountID: stringField(doc.Data, models.UserAttrAccountID),
		Email:     stringField(doc.Data, models.UserAttrEmail),
		Username:  stringField(doc.Data, models.UserAttrUsername),
		AvatarURL: stringField(doc.Data, models.UserAttrAvatar),
	}
}

// profileFromMap decodes an expanded relationship document.
func profileFromMap(m map[string]any) models.UserProfile {
	return models.UserProfile{
		ID:        stringField(m, "$id"),
		AccountID: stringField(m, models.UserAttrAccountID),
		Email:     stringField(m, models.UserAttrEmail),
		Username:  stringField(m, models.UserAttrUsername),
		AvatarURL: stringField(m, models.UserAttrAvatar),
	}
}

func postFromDocument(doc platform.Document) models.Post {
	post := models.Post{
		ID:           doc.ID,
		Title:        stringField(doc.Data, models.PostAttrTitle),
		ThumbnailURL: stringField(doc.Data, models.PostAttrThumbnail),
		VideoURL:     stringField(doc.Data, models.PostAttrVideo),
		Prompt:       stringField(doc.Data, models.PostAttrPrompt),
		CreatedAt:    doc.CreatedAt,
	}

	// The creator is either a bare profile id or, when the platform expands the
	// relationship, the whole profile document.
	switch creator := doc.Data[models.PostAttrCreator].(type) {
	case string:
		post.CreatorID = creator
	case map[string]any:
		profile := profileFromMap(creator)
		post.CreatorID = profile.ID
		post.Creator = &profile
	}
	return post
}

func postsFromDocuments(docs []platform.Document) []models.Post {
	posts := make([]models.Post, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, postFromDocument(doc))
	}
	return posts
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
