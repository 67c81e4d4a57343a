// Package platform describes the capabilities a backend provider must offer to the
// pixel backend layer: account and session management, document collections and
// blob storage with derived view/preview URLs.
package platform

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CurrentSession selects the session attached to the calling device.
const CurrentSession = "current"

// Account is the platform-issued authentication identity.
type Account struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// Session is an authenticated context issued by the platform.
type Session struct {
	ID        string
	UserID    string
	Provider  string
	Current   bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Document is a structured record stored in a collection.
type Document struct {
	ID           string
	DatabaseID   string
	CollectionID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Data         map[string]any
}

// DocumentList is the result of a collection listing.
type DocumentList struct {
	Total     int
	Documents []Document
}

// File is the handle of an uploaded blob.
type File struct {
	ID        string
	BucketID  string
	Name      string
	MimeType  string
	Size      int64
	CreatedAt time.Time
}

// PreviewOptions controls the derived image preview.
type PreviewOptions struct {
	Width   int
	Height  int
	Gravity string
	Quality int
}

// AccountService manages accounts and sessions.
type AccountService interface {
	Create(ctx context.Context, id, email, password, name string) (Account, error)
	Get(ctx context.Context) (Account, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	CreateEmailPasswordSession(ctx context.Context, email, password string) (Session, error)
}

// DocumentService creates and queries documents.
type DocumentService interface {
	CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (Document, error)
	ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...Query) (DocumentList, error)
}

// StorageService stores blobs and derives display URLs for them.
type StorageService interface {
	CreateFile(ctx context.Context, bucketID, fileID string, file InputFile) (File, error)
	GetFileView(ctx context.Context, bucketID, fileID string) (string, error)
	GetFilePreview(ctx context.Context, bucketID, fileID string, opts PreviewOptions) (string, error)
}

// AvatarService derives avatar images.
type AvatarService interface {
	GetInitials(ctx context.Context, name string) (string, error)
}

// Client groups the services of a single provider. It is built once at startup and
// shared read-only afterwards.
type Client struct {
	Account   AccountService
	Documents DocumentService
	Storage   StorageService
	Avatars   AvatarService
}

// NewID returns a unique identifier accepted by every provider as a custom id.
func NewID() string {
	return uuid.NewString()
}
