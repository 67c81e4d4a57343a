package models

import (
	"io"
	"time"
)

// Credentials carries the sign-up form.
type Credentials struct {
	Email    string
	Password string
	Username string
}

// Account is the authentication identity owned by the platform.
type Account struct {
	ID        string    `yaml:"id"`
	Email     string    `yaml:"email"`
	Username  string    `yaml:"username"`
	CreatedAt time.Time `yaml:"createdAt"`
}

// Session is an authenticated context on the current device.
type Session struct {
	ID        string    `yaml:"id"`
	AccountID string    `yaml:"accountId"`
	ExpiresAt time.Time `yaml:"expiresAt"`
}

// UserProfile is the application's profile document for an account.
type UserProfile struct {
	ID        string `yaml:"id"`
	AccountID string `yaml:"accountId"`
	Email     string `yaml:"email"`
	Username  string `yaml:"username"`
	AvatarURL string `yaml:"avatarUrl"`
}

// Post is a published video with its thumbnail.
type Post struct {
	ID           string       `yaml:"id"`
	Title        string       `yaml:"title"`
	ThumbnailURL string       `yaml:"thumbnailUrl"`
	VideoURL     string       `yaml:"videoUrl"`
	Prompt       string       `yaml:"prompt"`
	CreatorID    string       `yaml:"creatorId"`
	Creator      *UserProfile `yaml:"creator,omitempty"`
	CreatedAt    time.Time    `yaml:"createdAt"`
}

// FileType tags an upload as image or video; it decides how display URLs are derived.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	return t == FileTypeImage || t == FileTypeVideo
}

// FileDescriptor describes a picked file. Body, when set, is read instead of URI.
type FileDescriptor struct {
	Name     string
	MimeType string
	Size     int64
	URI      string
	Body     io.Reader
}

// PostForm is the input of the create-video-post flow.
type PostForm struct {
	Title     string
	Thumbnail *FileDescriptor
	Video     *FileDescriptor
	Prompt    string
	UserID    string
}

// Document attribute names of the user profile collection.
const (
	UserAttrAccountID = "accountId"
	UserAttrEmail     = "email"
	UserAttrUsername  = "username"
	UserAttrAvatar    = "avatar"
)

// Document attribute names of the post collection.
const (
	PostAttrTitle     = "title"
	PostAttrThumbnail = "thumbnail"
	PostAttrVideo     = "video"
	PostAttrPrompt    = "prompt"
	PostAttrCreator   = "creator"
)
