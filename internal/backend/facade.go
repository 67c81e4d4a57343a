// Package backend is the application's single entry point to the hosted platform.
// Each Facade method turns one application intent into an ordered sequence of
// platform calls and normalizes the outcome into models and the error kinds in
// errors.go.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bakaf/pixel/internal/logging"
	"github.com/bakaf/pixel/internal/models"
	"github.com/bakaf/pixel/internal/platform"
)

// LatestPostsLimit caps GetLatestPosts.
const LatestPostsLimit = 7

// ImagePreview is the fixed preview derived for uploaded images.
var ImagePreview = platform.PreviewOptions{Width: 2000, Height: 2000, Gravity: "top", Quality: 100}

// Collections identifies where the facade keeps its data. It is fixed at startup.
type Collections struct {
	DatabaseID       string
	UserCollectionID string
	PostCollectionID string
	StorageID        string
}

func (c Collections) validate() error {
	var missing []string
	if c.DatabaseID == "" {
		missing = append(missing, "database id")
	}
	if c.UserCollectionID == "" {
		missing = append(missing, "user collection id")
	}
	if c.PostCollectionID == "" {
		missing = append(missing, "post collection id")
	}
	if c.StorageID == "" {
		missing = append(missing, "storage id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("backend: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Option customizes a Facade.
type Option func(*Facade)

// WithIDGenerator overrides how new document and file ids are produced. CreateVideoPost
// calls newID from concurrent uploads, so it must be safe for concurrent use.
func WithIDGenerator(newID func() string) Option {
	return func(f *Facade) {
		if newID != nil {
			f.newID = newID
		}
	}
}

// Facade composes platform calls into the application's operations. It holds no
// mutable state and is safe for concurrent use.
type Facade struct {
	account   platform.AccountService
	documents platform.DocumentService
	storage   platform.StorageService
	avatars   platform.AvatarService
	ids       Collections
	newID     func() string
}

// New builds a Facade over client. The avatar service is optional; every other
// service is required.
func New(client platform.Client, ids Collections, opts ...Option) (*Facade, error) {
	if client.Account == nil || client.Documents == nil || client.Storage == nil {
		return nil, errors.New("backend: account, document and storage services are required")
	}
	if err := ids.validate(); err != nil {
		return nil, err
	}

	f := &Facade{
		account:   client.Account,
		documents: client.Documents,
		storage:   client.Storage,
		avatars:   client.Avatars,
		ids:       ids,
		newID:     platform.NewID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CreateUser registers an account, signs it in and stores its profile document.
// The three steps are not atomic on the platform: when the profile cannot be
// stored the new session is ended again and the account is left for
// EnsureUserProfile to repair on the next sign-in.
func (f *Facade) CreateUser(ctx context.Context, creds models.Credentials) (profile models.UserProfile, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.CreateUser", "email", creds.Email)
	defer func() { span.End(err) }()

	if creds.Email == "" || creds.Password == "" || creds.Username == "" {
		return models.UserProfile{}, fmt.Errorf("create user: %w: email, password and username are required", ErrValidation)
	}

	account, err := f.account.Create(ctx, f.newID(), creds.Email, creds.Password, creds.Username)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("create user: %w: %w", ErrCreation, err)
	}
	if account.ID == "" {
		return models.UserProfile{}, fmt.Errorf("create user: %w: platform returned no account id", ErrCreation)
	}

	avatar := f.avatarURL(ctx, creds.Username)

	if _, err := f.SignIn(ctx, creds.Email, creds.Password); err != nil {
		return models.UserProfile{}, fmt.Errorf("create user: %w: %w", ErrCreation, err)
	}

	doc, err := f.documents.CreateDocument(ctx, f.ids.DatabaseID, f.ids.UserCollectionID, f.newID(), map[string]any{
		models.UserAttrAccountID: account.ID,
		models.UserAttrEmail:     creds.Email,
		models.UserAttrUsername:  creds.Username,
		models.UserAttrAvatar:    avatar,
	})
	if err != nil {
		f.endSessionAfterFailedRegistration(ctx, account.ID)
		return models.UserProfile{}, fmt.Errorf("create user: %w: store profile: %w", ErrCreation, err)
	}

	return profileFromDocument(doc), nil
}

func (f *Facade) endSessionAfterFailedRegistration(ctx context.Context, accountID string) {
	logger := logging.FromContext(ctx)
	if err := f.account.DeleteSession(ctx, platform.CurrentSession); err != nil {
		logger.Warn("could not end session of account without profile", "accountId", accountID, "error", err)
		return
	}
	logger.Warn("account left without profile; it is repaired on next sign-in", "accountId", accountID)
}

func (f *Facade) avatarURL(ctx context.Context, username string) string {
	if f.avatars == nil {
		return ""
	}
	avatar, err := f.avatars.GetInitials(ctx, username)
	if err != nil {
		logging.FromContext(ctx).Warn("avatar initials unavailable", "error", err)
		return ""
	}
	return avatar
}

// SignIn replaces any current session with a new email/password session.
func (f *Facade) SignIn(ctx context.Context, email, password string) (session models.Session, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.SignIn", "email", email)
	defer func() { span.End(err) }()

	if email == "" || password == "" {
		return models.Session{}, fmt.Errorf("sign in: %w: %w: email and password are required", ErrAuth, ErrValidation)
	}

	// A failed probe only means there is nothing to replace.
	if _, probeErr := f.account.GetSession(ctx, platform.CurrentSession); probeErr == nil {
		if err := f.account.DeleteSession(ctx, platform.CurrentSession); err != nil {
			return models.Session{}, fmt.Errorf("sign in: end current session: %w: %w", ErrAuth, err)
		}
	} else {
		span.Logger().Debug("no current session to replace", "error", probeErr)
	}

	created, err := f.account.CreateEmailPasswordSession(ctx, email, password)
	if err != nil {
		return models.Session{}, fmt.Errorf("sign in: %w: %w", ErrAuth, err)
	}
	return sessionFromPlatform(created), nil
}

// SignOut ends the current session. A nil error confirms the deletion.
func (f *Facade) SignOut(ctx context.Context) (err error) {
	ctx, span := logging.StartSpan(ctx, "backend.SignOut")
	defer func() { span.End(err) }()

	if err := f.account.DeleteSession(ctx, platform.CurrentSession); err != nil {
		return fmt.Errorf("sign out: %w: %w", ErrAuth, err)
	}
	return nil
}

// GetAccount returns the signed-in account.
func (f *Facade) GetAccount(ctx context.Context) (account models.Account, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.GetAccount")
	defer func() { span.End(err) }()

	acc, err := f.account.Get(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("get account: %w: %w", ErrAuth, err)
	}
	return accountFromPlatform(acc), nil
}

// GetCurrentUser returns the profile of the signed-in account. Unlike every other
// read it never fails: being signed out, a failed lookup and a missing profile all
// yield ok == false, and the cause is logged.
func (f *Facade) GetCurrentUser(ctx context.Context) (models.UserProfile, bool) {
	ctx, span := logging.StartSpan(ctx, "backend.GetCurrentUser")
	defer span.End(nil)

	profiles, err := f.currentProfiles(ctx)
	if err != nil {
		span.Logger().Warn("no current user", "error", err)
		return models.UserProfile{}, false
	}
	if len(profiles) == 0 {
		span.Logger().Warn("no current user", "error", "no profile document for account")
		return models.UserProfile{}, false
	}
	if len(profiles) > 1 {
		span.Logger().Warn("duplicate profile documents, using the first", "count", len(profiles), "profileId", profiles[0].ID)
	}
	return profiles[0], true
}

// EnsureUserProfile returns the signed-in account's profile, creating it when the
// account has none (a registration interrupted after sign-in). More than one
// profile for the account is reported as ErrDataIntegrity.
func (f *Facade) EnsureUserProfile(ctx context.Context) (profile models.UserProfile, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.EnsureUserProfile")
	defer func() { span.End(err) }()

	acc, err := f.account.Get(ctx)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("ensure user profile: %w: %w", ErrAuth, err)
	}

	profiles, err := f.profilesFor(ctx, acc.ID)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("ensure user profile: %w: %w", ErrQuery, err)
	}
	switch len(profiles) {
	case 0:
	case 1:
		return profiles[0], nil
	default:
		return models.UserProfile{}, fmt.Errorf("ensure user profile: %w: %d profiles for account %s", ErrDataIntegrity, len(profiles), acc.ID)
	}

	doc, err := f.documents.CreateDocument(ctx, f.ids.DatabaseID, f.ids.UserCollectionID, f.newID(), map[string]any{
		models.UserAttrAccountID: acc.ID,
		models.UserAttrEmail:     acc.Email,
		models.UserAttrUsername:  acc.Name,
		models.UserAttrAvatar:    f.avatarURL(ctx, acc.Name),
	})
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("ensure user profile: %w: %w", ErrCreation, err)
	}
	span.Logger().Info("created missing profile", "accountId", acc.ID, "profileId", doc.ID)
	return profileFromDocument(doc), nil
}

func (f *Facade) currentProfiles(ctx context.Context) ([]models.UserProfile, error) {
	acc, err := f.account.Get(ctx)
	if err != nil {
		return nil, err
	}
	if acc.ID == "" {
		return nil, errors.New("platform returned no account")
	}
	return f.profilesFor(ctx, acc.ID)
}

func (f *Facade) profilesFor(ctx context.Context, accountID string) ([]models.UserProfile, error) {
	list, err := f.documents.ListDocuments(ctx, f.ids.DatabaseID, f.ids.UserCollectionID,
		platform.Equal(models.UserAttrAccountID, accountID),
	)
	if err != nil {
		return nil, err
	}
	profiles := make([]models.UserProfile, 0, len(list.Documents))
	for _, doc := range list.Documents {
		profiles = append(profiles, profileFromDocument(doc))
	}
	return profiles, nil
}

// GetAllPosts lists every post, newest first.
func (f *Facade) GetAllPosts(ctx context.Context) ([]models.Post, error) {
	return f.listPosts(ctx, "get all posts",
		platform.OrderDesc(platform.AttrCreatedAt),
	)
}

// GetLatestPosts lists at most LatestPostsLimit posts, newest first.
func (f *Facade) GetLatestPosts(ctx context.Context) ([]models.Post, error) {
	posts, err := f.listPosts(ctx, "get latest posts",
		platform.OrderDesc(platform.AttrCreatedAt),
		platform.Limit(LatestPostsLimit),
	)
	if err != nil {
		return nil, err
	}
	if len(posts) > LatestPostsLimit {
		posts = posts[:LatestPostsLimit]
	}
	return posts, nil
}

// SearchPosts lists posts whose title matches query. No match is an empty result.
func (f *Facade) SearchPosts(ctx context.Context, query string) ([]models.Post, error) {
	return f.listPosts(ctx, "search posts",
		platform.Search(models.PostAttrTitle, query),
	)
}

// GetUserPosts lists the posts created by userID, newest first.
func (f *Facade) GetUserPosts(ctx context.Context, userID string) ([]models.Post, error) {
	if userID == "" {
		return nil, fmt.Errorf("get user posts: %w: %w: user id is required", ErrQuery, ErrValidation)
	}
	return f.listPosts(ctx, "get user posts",
		platform.Equal(models.PostAttrCreator, userID),
		platform.OrderDesc(platform.AttrCreatedAt),
	)
}

func (f *Facade) listPosts(ctx context.Context, op string, queries ...platform.Query) (posts []models.Post, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.ListPosts", "op", op)
	defer func() { span.End(err) }()

	list, err := f.documents.ListDocuments(ctx, f.ids.DatabaseID, f.ids.PostCollectionID, queries...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrQuery, err)
	}
	return postsFromDocuments(list.Documents), nil
}

// UploadFile stores file and returns the URL to display it with. A nil file is a
// no-op that returns an empty URL.
func (f *Facade) UploadFile(ctx context.Context, file *models.FileDescriptor, typ models.FileType) (fileURL string, err error) {
	if file == nil {
		return "", nil
	}

	ctx, span := logging.StartSpan(ctx, "backend.UploadFile", "file", file.Name, "type", string(typ))
	defer func() { span.End(err) }()

	if !typ.Valid() {
		return "", fmt.Errorf("upload file: %w: unknown file type %q", ErrValidation, typ)
	}

	uploaded, err := f.storage.CreateFile(ctx, f.ids.StorageID, f.newID(), platform.InputFile{
		Name:     file.Name,
		MimeType: file.MimeType,
		Size:     file.Size,
		URI:      file.URI,
		Body:     file.Body,
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w: %w", ErrUpload, err)
	}

	fileURL, err = f.GetFilePreview(ctx, uploaded.ID, typ)
	if err != nil {
		return "", fmt.Errorf("upload file: %w: %w", ErrUpload, err)
	}
	return fileURL, nil
}

// GetFilePreview derives the display URL of a stored file: the view URL for videos
// and a 2000x2000 top-anchored full-quality preview for images.
func (f *Facade) GetFilePreview(ctx context.Context, fileID string, typ models.FileType) (fileURL string, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.GetFilePreview", "fileId", fileID, "type", string(typ))
	defer func() { span.End(err) }()

	switch typ {
	case models.FileTypeVideo:
		fileURL, err = f.storage.GetFileView(ctx, f.ids.StorageID, fileID)
	case models.FileTypeImage:
		fileURL, err = f.storage.GetFilePreview(ctx, f.ids.StorageID, fileID, ImagePreview)
	default:
		return "", fmt.Errorf("get file preview: %w: unknown file type %q", ErrValidation, typ)
	}
	if err != nil {
		if platform.IsNotFound(err) {
			return "", fmt.Errorf("get file preview: %w: %w", ErrNotFound, err)
		}
		return "", fmt.Errorf("get file preview: %w: %w", ErrQuery, err)
	}
	if fileURL == "" {
		return "", fmt.Errorf("get file preview: %w: no url for file %s", ErrNotFound, fileID)
	}
	return fileURL, nil
}

// CreateVideoPost uploads the thumbnail and the video concurrently and, once both
// succeeded, stores the post document. No document is written if either upload
// fails.
func (f *Facade) CreateVideoPost(ctx context.Context, form models.PostForm) (post models.Post, err error) {
	ctx, span := logging.StartSpan(ctx, "backend.CreateVideoPost", "userId", form.UserID)
	defer func() { span.End(err) }()

	switch {
	case strings.TrimSpace(form.Title) == "":
		return models.Post{}, fmt.Errorf("create video post: %w: %w: title is required", ErrCreation, ErrValidation)
	case form.UserID == "":
		return models.Post{}, fmt.Errorf("create video post: %w: %w: user id is required", ErrCreation, ErrValidation)
	case form.Thumbnail == nil || form.Video == nil:
		return models.Post{}, fmt.Errorf("create video post: %w: %w: thumbnail and video are required", ErrCreation, ErrValidation)
	}

	var thumbnailURL, videoURL string
	var g errgroup.Group
	g.Go(func() error {
		u, err := f.UploadFile(ctx, form.Thumbnail, models.FileTypeImage)
		if err != nil {
			return fmt.Errorf("thumbnail: %w", err)
		}
		thumbnailURL = u
		return nil
	})
	g.Go(func() error {
		u, err := f.UploadFile(ctx, form.Video, models.FileTypeVideo)
		if err != nil {
			return fmt.Errorf("video: %w", err)
		}
		videoURL = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.Post{}, fmt.Errorf("create video post: %w: %w", ErrCreation, err)
	}

	doc, err := f.documents.CreateDocument(ctx, f.ids.DatabaseID, f.ids.PostCollectionID, f.newID(), map[string]any{
		models.PostAttrTitle:     form.Title,
		models.PostAttrThumbnail: thumbnailURL,
		models.PostAttrVideo:     videoURL,
		models.PostAttrPrompt:    form.Prompt,
		models.PostAttrCreator:   form.UserID,
	})
	if err != nil {
		return models.Post{}, fmt.Errorf("create video post: %w: %w", ErrCreation, err)
	}
	return postFromDocument(doc), nil
}
