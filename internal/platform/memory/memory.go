// Package memory implements the whole platform capability set in process. It follows
// the hosted platform's observable rules (one active session per device, 401 on
// guest access, full-text search on attributes) and is used by tests and local demos.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bakaf/pixel/internal/platform"
)

// DefaultBaseURL prefixes every URL derived by the memory backend.
const DefaultBaseURL = "memory://pixel"

type account struct {
	platform.Account
	passwordHash []byte
}

type storedFile struct {
	platform.File
	contents []byte
}

// Backend is an in-memory provider. The zero value is not usable; call New.
type Backend struct {
	BaseURL string

	mu          sync.Mutex
	now         func() time.Time
	lastTime    time.Time
	accounts    map[string]*account
	emails      map[string]string
	sessions    map[string]platform.Session
	current     string
	collections map[string][]platform.Document
	files       map[string]storedFile
	failures    map[string]error
	calls       []string
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{
		BaseURL:     DefaultBaseURL,
		now:         time.Now,
		accounts:    make(map[string]*account),
		emails:      make(map[string]string),
		sessions:    make(map[string]platform.Session),
		collections: make(map[string][]platform.Document),
		files:       make(map[string]storedFile),
		failures:    make(map[string]error),
	}
}

// Client exposes the backend as a platform client.
func (b *Backend) Client() platform.Client {
	return platform.Client{Account: b, Documents: b, Storage: b, Avatars: b}
}

// FailOn makes every later call of method (for example "documents.CreateDocument")
// return err. A nil err removes the failure.
func (b *Backend) FailOn(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, method)
		return
	}
	b.failures[method] = err
}

// Calls returns the methods invoked so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// SessionCount reports how many sessions are stored.
func (b *Backend) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// FileCount reports how many blobs are stored.
func (b *Backend) FileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// enter records the call and returns any injected failure. The caller holds b.mu.
func (b *Backend) enter(method string) error {
	b.calls = append(b.calls, method)
	return b.failures[method]
}

// tick returns a strictly increasing timestamp so creation order is total.
func (b *Backend) tick() time.Time {
	t := b.now().UTC()
	if !t.After(b.lastTime) {
		t = b.lastTime.Add(time.Microsecond)
	}
	b.lastTime = t
	return t
}

var errGuest = platform.Errorf(http.StatusUnauthorized, "general_unauthorized_scope", "User (role: guests) missing scope (account)")

// Create registers a new account. It does not start a session.
func (b *Backend) Create(_ context.Context, id, email, password, name string) (platform.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("account.Create"); err != nil {
		return platform.Account{}, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return platform.Account{}, platform.Errorf(http.StatusBadRequest, "general_argument_invalid", "Invalid `email` param: Value must be a valid email address")
	}
	if len(password) < 8 || len(password) > 256 {
		return platform.Account{}, platform.Errorf(http.StatusBadRequest, "general_argument_invalid", "Invalid `password` param: Password must be between 8 and 256 characters long.")
	}
	if _, exists := b.emails[email]; exists {
		return platform.Account{}, platform.Errorf(http.StatusConflict, "user_already_exists", "A user with the same id, email, or phone already exists in this project.")
	}
	if _, exists := b.accounts[id]; exists || id == "" {
		id = platform.NewID()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return platform.Account{}, fmt.Errorf("hash password: %w", err)
	}

	acc := &account{
		Account:      platform.Account{ID: id, Email: email, Name: name, CreatedAt: b.tick()},
		passwordHash: hash,
	}
	b.accounts[id] = acc
	b.emails[email] = id
	return acc.Account, nil
}

// Get returns the account of the current session.
func (b *Backend) Get(_ context.Context) (platform.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("account.Get"); err != nil {
		return platform.Account{}, err
	}

	current, ok := b.sessions[b.current]
	if !ok {
		return platform.Account{}, errGuest
	}
	return b.accounts[current.UserID].Account, nil
}

// GetSession returns the current session or one of the current user's sessions.
func (b *Backend) GetSession(_ context.Context, sessionID string) (platform.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("account.GetSession"); err != nil {
		return platform.Session{}, err
	}

	current, ok := b.sessions[b.current]
	if !ok {
		return platform.Session{}, errGuest
	}
	if sessionID == platform.CurrentSession || sessionID == current.ID {
		current.Current = true
		return current, nil
	}
	s, ok := b.sessions[sessionID]
	if !ok || s.UserID != current.UserID {
		return platform.Session{}, platform.Errorf(http.StatusNotFound, "user_session_not_found", "The current user session could not be found.")
	}
	return s, nil
}

// DeleteSession ends the current session or one of the current user's sessions.
func (b *Backend) DeleteSession(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("account.DeleteSession"); err != nil {
		return err
	}

	current, ok := b.sessions[b.current]
	if !ok {
		return errGuest
	}
	if sessionID == platform.CurrentSession {
		sessionID = current.ID
	}
	s, ok := b.sessions[sessionID]
	if !ok || s.UserID != current.UserID {
		return platform.Errorf(http.StatusNotFound, "user_session_not_found", "The current user session could not be found.")
	}
	delete(b.sessions, sessionID)
	if sessionID == b.current {
		b.current = ""
	}
	return nil
}

// CreateEmailPasswordSession starts a session. Like the hosted platform it refuses
// to do so while another session is active on the device.
func (b *Backend) CreateEmailPasswordSession(_ context.Context, email, password string) (platform.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("account.CreateEmailPasswordSession"); err != nil {
		return platform.Session{}, err
	}

	if _, active := b.sessions[b.current]; active {
		return platform.Session{}, platform.Errorf(http.StatusUnauthorized, "user_session_already_exists", "Creation of a session is prohibited when a session is active.")
	}

	invalid := platform.Errorf(http.StatusUnauthorized, "user_invalid_credentials", "Invalid credentials. Please check the email and password.")
	id, ok := b.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return platform.Session{}, invalid
	}
	acc := b.accounts[id]
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return platform.Session{}, invalid
	}

	now := b.tick()
	s := platform.Session{
		ID:        platform.NewID(),
		UserID:    acc.ID,
		Provider:  "email",
		CreatedAt: now,
		ExpiresAt: now.Add(365 * 24 * time.Hour),
	}
	b.sessions[s.ID] = s
	b.current = s.ID
	s.Current = true
	return s, nil
}

func collectionKey(databaseID, collectionID string) string {
	return databaseID + "/" + collectionID
}

// CreateDocument stores a copy of data under documentID.
func (b *Backend) CreateDocument(_ context.Context, databaseID, collectionID, documentID string, data map[string]any) (platform.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("documents.CreateDocument"); err != nil {
		return platform.Document{}, err
	}

	key := collectionKey(databaseID, collectionID)
	for _, doc := range b.collections[key] {
		if doc.ID == documentID {
			return platform.Document{}, platform.Errorf(http.StatusConflict, "document_already_exists", "Document with the requested ID already exists.")
		}
	}

	now := b.tick()
	doc := platform.Document{
		ID:           documentID,
		DatabaseID:   databaseID,
		CollectionID: collectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         maps.Clone(data),
	}
	b.collections[key] = append(b.collections[key], doc)
	return detach(doc), nil
}

// ListDocuments applies filters, then ordering, then the limit.
func (b *Backend) ListDocuments(_ context.Context, databaseID, collectionID string, queries ...platform.Query) (platform.DocumentList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("documents.ListDocuments"); err != nil {
		return platform.DocumentList{}, err
	}

	docs := append([]platform.Document(nil), b.collections[collectionKey(databaseID, collectionID)]...)

	limit := -1
	var orders []platform.Query
	for _, q := range queries {
		switch q.Method {
		case platform.MethodEqual:
			docs = filter(docs, func(d platform.Document) bool { return matchesEqual(d, q) })
		case platform.MethodSearch:
			docs = filter(docs, func(d platform.Document) bool { return matchesSearch(attribute(d, q.Attribute), q.TextValue()) })
		case platform.MethodOrderAsc, platform.MethodOrderDesc:
			orders = append(orders, q)
		case platform.MethodLimit:
			n, ok := q.LimitValue()
			if !ok || n < 0 {
				return platform.DocumentList{}, platform.Errorf(http.StatusBadRequest, "general_query_invalid", "Invalid query: limit must be a non-negative integer")
			}
			limit = n
		default:
			return platform.DocumentList{}, platform.Errorf(http.StatusBadRequest, "general_query_invalid", "Invalid query method: %s", q.Method)
		}
	}

	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		sort.SliceStable(docs, func(a, c int) bool {
			cmp := compare(docs[a], docs[c], o.Attribute)
			if o.Method == platform.MethodOrderDesc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	total := len(docs)
	if limit >= 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	for i := range docs {
		docs[i] = detach(docs[i])
	}
	return platform.DocumentList{Total: total, Documents: docs}, nil
}

// detach returns doc with its own copy of the attribute map so callers cannot
// change stored documents.
func detach(doc platform.Document) platform.Document {
	doc.Data = maps.Clone(doc.Data)
	return doc
}

func filter(docs []platform.Document, keep func(platform.Document) bool) []platform.Document {
	out := docs[:0]
	for _, d := range docs {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func attribute(d platform.Document, name string) string {
	switch name {
	case "$id":
		return d.ID
	case platform.AttrCreatedAt:
		return d.CreatedAt.Format(time.RFC3339Nano)
	}
	v, ok := d.Data[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func matchesEqual(d platform.Document, q platform.Query) bool {
	got := attribute(d, q.Attribute)
	for _, v := range q.Values {
		if fmt.Sprint(v) == got {
			return true
		}
	}
	return false
}

func matchesSearch(value, text string) bool {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return false
	}
	value = strings.ToLower(value)
	for _, term := range terms {
		if !strings.Contains(value, term) {
			return false
		}
	}
	return true
}

func compare(a, b platform.Document, name string) int {
	if name == platform.AttrCreatedAt {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return strings.Compare(attribute(a, name), attribute(b, name))
}

func fileKey(bucketID, fileID string) string {
	return bucketID + "/" + fileID
}

// CreateFile reads the whole file into memory.
func (b *Backend) CreateFile(_ context.Context, bucketID, fileID string, file platform.InputFile) (platform.File, error) {
	b.mu.Lock()
	if err := b.enter("storage.CreateFile"); err != nil {
		b.mu.Unlock()
		return platform.File{}, err
	}
	b.mu.Unlock()

	rc, err := file.Open()
	if err != nil {
		return platform.File{}, platform.Errorf(http.StatusBadRequest, "storage_invalid_file", "%v", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return platform.File{}, fmt.Errorf("read %s: %w", file.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := fileKey(bucketID, fileID)
	if _, exists := b.files[key]; exists {
		return platform.File{}, platform.Errorf(http.StatusConflict, "storage_file_already_exists", "A storage file with the requested ID already exists.")
	}
	stored := storedFile{
		File: platform.File{
			ID:        fileID,
			BucketID:  bucketID,
			Name:      file.Name,
			MimeType:  file.MimeType,
			Size:      int64(buf.Len()),
			CreatedAt: b.tick(),
		},
		contents: buf.Bytes(),
	}
	b.files[key] = stored
	return stored.File, nil
}

func (b *Backend) fileURL(bucketID, fileID, action string) (string, error) {
	if _, ok := b.files[fileKey(bucketID, fileID)]; !ok {
		return "", platform.Errorf(http.StatusNotFound, "storage_file_not_found", "The requested file could not be found.")
	}
	return fmt.Sprintf("%s/storage/buckets/%s/files/%s/%s", b.BaseURL, url.PathEscape(bucketID), url.PathEscape(fileID), action), nil
}

// GetFileView returns the view URL of a stored file.
func (b *Backend) GetFileView(_ context.Context, bucketID, fileID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("storage.GetFileView"); err != nil {
		return "", err
	}
	return b.fileURL(bucketID, fileID, "view")
}

// GetFilePreview returns the preview URL of a stored file.
func (b *Backend) GetFilePreview(_ context.Context, bucketID, fileID string, opts platform.PreviewOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("storage.GetFilePreview"); err != nil {
		return "", err
	}
	u, err := b.fileURL(bucketID, fileID, "preview")
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("width", strconv.Itoa(opts.Width))
	params.Set("height", strconv.Itoa(opts.Height))
	params.Set("gravity", opts.Gravity)
	params.Set("quality", strconv.Itoa(opts.Quality))
	return u + "?" + params.Encode(), nil
}

// Contents returns the bytes of a stored file.
func (b *Backend) Contents(bucketID, fileID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[fileKey(bucketID, fileID)]
	return f.contents, ok
}

// GetInitials returns an initials avatar URL.
func (b *Backend) GetInitials(_ context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("avatars.GetInitials"); err != nil {
		return "", err
	}
	return b.BaseURL + "/avatars/initials?name=" + url.QueryEscape(name), nil
}

var (
	_ platform.AccountService  = (*Backend)(nil)
	_ platform.DocumentService = (*Backend)(nil)
	_ platform.StorageService  = (*Backend)(nil)
	_ platform.AvatarService   = (*Backend)(nil)
)
