package appwrite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bakaf/pixel/internal/platform"
	"github.com/bakaf/pixel/internal/session"
)

const testCookies = `{"a_session_proj":"secret"}`

type upload struct {
	contentRange string
	uploadID     string
	fileID       string
	filename     string
	mimeType     string
	data         string
}

// fakeAppwrite serves the subset of the REST API the client uses.
type fakeAppwrite struct {
	t *testing.T

	mu      sync.Mutex
	queries []string
	created map[string]any
	uploads []upload
}

func (f *fakeAppwrite) writeError(w http.ResponseWriter, code int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg, "code": code, "type": typ, "version": "1.5.7"})
}

func (f *fakeAppwrite) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAppwrite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerProject) != "proj" {
		f.writeError(w, http.StatusBadRequest, "project_unknown", "missing project header")
		return
	}
	if r.Header.Get(headerResponseFormat) != responseFormat {
		f.t.Errorf("unexpected response format header %q", r.Header.Get(headerResponseFormat))
	}
	if r.Header.Get("Origin") != "appwrite-android://com.bakaf.pixel" {
		f.t.Errorf("unexpected origin %q", r.Header.Get("Origin"))
	}
	signedIn := r.Header.Get(headerFallbackCookies) == testCookies

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/account":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] == "taken@example.com" {
			f.writeError(w, http.StatusConflict, "user_already_exists", "A user with the same id, email, or phone already exists in this project.")
			return
		}
		f.writeJSON(w, http.StatusCreated, map[string]any{"$id": body["userId"], "$createdAt": "2024-11-26T10:00:00.000+00:00", "name": body["name"], "email": body["email"]})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/account/sessions/email":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "password123" {
			f.writeError(w, http.StatusUnauthorized, "user_invalid_credentials", "Invalid credentials. Please check the email and password.")
			return
		}
		w.Header().Set(headerFallbackCookies, testCookies)
		f.writeJSON(w, http.StatusCreated, map[string]any{"$id": "sess-1", "userId": "acc-1", "provider": "email", "current": true, "expire": "2025-11-26T10:00:00.000+00:00"})

	case r.Method == http.MethodGet && r.URL.Path == "/v1/account":
		if !signedIn {
			f.writeError(w, http.StatusUnauthorized, "general_unauthorized_scope", "User (role: guests) missing scope (account)")
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"$id": "acc-1", "name": "alice", "email": "alice@example.com"})

	case r.URL.Path == "/v1/account/sessions/current":
		if !signedIn {
			f.writeError(w, http.StatusUnauthorized, "general_unauthorized_scope", "User (role: guests) missing scope (account)")
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		f.writeJSON(w, http.StatusOK, map[string]any{"$id": "sess-1", "userId": "acc-1", "current": true})

	case r.URL.Path == "/v1/databases/db/collections/posts/documents":
		if r.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.created = body
			f.mu.Unlock()
			doc := map[string]any{"$id": body["documentId"], "$databaseId": "db", "$collectionId": "posts", "$createdAt": "2024-11-26T10:00:00.000+00:00"}
			for k, v := range body["data"].(map[string]any) {
				doc[k] = v
			}
			f.writeJSON(w, http.StatusCreated, doc)
			return
		}
		f.mu.Lock()
		f.queries = r.URL.Query()["queries[]"]
		f.mu.Unlock()
		f.writeJSON(w, http.StatusOK, map[string]any{
			"total": 1,
			"documents": []map[string]any{{
				"$id":           "post-1",
				"$databaseId":   "db",
				"$collectionId": "posts",
				"$createdAt":    "2024-11-26T10:00:00.000+00:00",
				"$updatedAt":    "2024-11-26T11:00:00.000+00:00",
				"$permissions":  []string{},
				"title":         "Sunset",
				"creator":       map[string]any{"$id": "profile-1", "username": "alice"},
			}},
		})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/storage/buckets/files/files":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			f.writeError(w, http.StatusBadRequest, "storage_invalid_file", err.Error())
			return
		}
		part, header, err := r.FormFile("file")
		if err != nil {
			f.writeError(w, http.StatusBadRequest, "storage_invalid_file", err.Error())
			return
		}
		data, _ := io.ReadAll(part)
		u := upload{
			contentRange: r.Header.Get("Content-Range"),
			uploadID:     r.Header.Get(headerUploadID),
			fileID:       r.FormValue("fileId"),
			filename:     header.Filename,
			mimeType:     header.Header.Get("Content-Type"),
			data:         string(data),
		}
		f.mu.Lock()
		f.uploads = append(f.uploads, u)
		f.mu.Unlock()
		f.writeJSON(w, http.StatusCreated, map[string]any{"$id": u.fileID, "bucketId": "files", "name": u.filename, "mimeType": u.mimeType, "sizeOriginal": 10})

	default:
		f.writeError(w, http.StatusNotFound, "general_route_not_found", "The requested route was not found.")
	}
}

func (f *fakeAppwrite) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeAppwrite) createdBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeAppwrite) seenUploads() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

func newTestClient(t *testing.T) (*Client, *fakeAppwrite, *session.MemoryStore) {
	t.Helper()
	fake := &fakeAppwrite{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := session.NewMemoryStore()
	c, err := New(Config{Endpoint: srv.URL + "/v1/", Project: "proj", Platform: "com.bakaf.pixel"}, store, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, fake, store
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Project: "p"}, nil); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if _, err := New(Config{Endpoint: "https://cloud.appwrite.io/v1"}, nil); err == nil {
		t.Fatal("expected error for missing project")
	}
	if _, err := New(Config{Endpoint: "https://cloud.appwrite.io/v1", Project: "p"}, nil); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestSessionPersistence(t *testing.T) {
	ctx := context.Background()
	c, _, store := newTestClient(t)
	account := c.Services().Account

	if _, err := account.Get(ctx); !platform.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized before sign in, got %v", err)
	}

	s, err := account.CreateEmailPasswordSession(ctx, "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s.ID != "sess-1" || s.UserID != "acc-1" || !s.Current {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.ExpiresAt.IsZero() {
		t.Fatal("expected session expiry to be decoded")
	}
	if secret, _ := store.Load(ctx); secret != testCookies {
		t.Fatalf("expected fallback cookies to be stored, got %q", secret)
	}

	acc, err := account.Get(ctx)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.ID != "acc-1" || acc.Email != "alice@example.com" || acc.Name != "alice" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if _, err := account.GetSession(ctx, platform.CurrentSession); err != nil {
		t.Fatalf("get current session: %v", err)
	}
	if err := account.DeleteSession(ctx, platform.CurrentSession); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if secret, _ := store.Load(ctx); secret != "" {
		t.Fatalf("expected stored session to be cleared, got %q", secret)
	}

	_, err = account.Get(ctx)
	var pErr *platform.Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected platform error, got %v", err)
	}
	if pErr.Code != http.StatusUnauthorized || pErr.Type != "general_unauthorized_scope" || !strings.Contains(pErr.Message, "missing scope") {
		t.Fatalf("unexpected platform error: %+v", pErr)
	}
}

func TestAccountErrorsKeepPlatformMessage(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestClient(t)
	account := c.Services().Account

	if _, err := account.Create(ctx, "id", "taken@example.com", "password123", "x"); !platform.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_, err := account.CreateEmailPasswordSession(ctx, "alice@example.com", "nope")
	if !platform.IsUnauthorized(err) || !strings.Contains(err.Error(), "Invalid credentials") {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	created, err := account.Create(ctx, "acc-9", "new@example.com", "password123", "newbie")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if created.ID != "acc-9" || created.CreatedAt.IsZero() {
		t.Fatalf("unexpected account: %+v", created)
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)
	docs := c.Services().Documents

	list, err := docs.ListDocuments(ctx, "db", "posts",
		platform.Equal("creator", "profile-1"),
		platform.OrderDesc(platform.AttrCreatedAt),
		platform.Limit(7),
	)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}

	want := []string{
		`{"method":"equal","attribute":"creator","values":["profile-1"]}`,
		`{"method":"orderDesc","attribute":"$createdAt"}`,
		`{"method":"limit","values":[7]}`,
	}
	if got := fake.seenQueries(); strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected queries:\n%v\nwant:\n%v", got, want)
	}

	if list.Total != 1 || len(list.Documents) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
	doc := list.Documents[0]
	if doc.ID != "post-1" || doc.DatabaseID != "db" || doc.CollectionID != "posts" {
		t.Fatalf("unexpected system attributes: %+v", doc)
	}
	if doc.CreatedAt.IsZero() || !doc.UpdatedAt.After(doc.CreatedAt) {
		t.Fatalf("unexpected timestamps: %v %v", doc.CreatedAt, doc.UpdatedAt)
	}
	if _, ok := doc.Data["$permissions"]; ok {
		t.Fatal("system attributes must not leak into data")
	}
	if doc.Data["title"] != "Sunset" {
		t.Fatalf("unexpected data: %v", doc.Data)
	}
	if creator, ok := doc.Data["creator"].(map[string]any); !ok || creator["$id"] != "profile-1" {
		t.Fatalf("expected expanded creator, got %v", doc.Data["creator"])
	}

	created, err := docs.CreateDocument(ctx, "db", "posts", "post-2", map[string]any{"title": "New"})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if created.ID != "post-2" || created.Data["title"] != "New" {
		t.Fatalf("unexpected document: %+v", created)
	}
	if body := fake.createdBody(); body["documentId"] != "post-2" {
		t.Fatalf("unexpected request body: %v", body)
	}

	if _, err := docs.ListDocuments(ctx, "db", "missing"); !platform.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateFileInChunks(t *testing.T) {
	ctx := context.Background()
	c, fake, _ := newTestClient(t)
	c.chunkSize = 4

	file, err := c.Services().Storage.CreateFile(ctx, "files", "file-1", platform.InputFile{
		Name:     `clip "1".mp4`,
		MimeType: "video/mp4",
		Size:     10,
		Body:     strings.NewReader("0123456789"),
	})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if file.ID != "file-1" || file.BucketID != "files" {
		t.Fatalf("unexpected file: %+v", file)
	}

	wantRanges := []string{"bytes 0-3/10", "bytes 4-7/10", "bytes 8-9/10"}
	wantData := []string{"0123", "4567", "89"}
	uploads := fake.seenUploads()
	if len(uploads) != len(wantRanges) {
		t.Fatalf("expected %d chunks, got %d", len(wantRanges), len(uploads))
	}
	for i, u := range uploads {
		if u.contentRange != wantRanges[i] || u.data != wantData[i] {
			t.Fatalf("chunk %d: got range %q data %q", i, u.contentRange, u.data)
		}
		if u.fileID != "file-1" || u.mimeType != "video/mp4" || u.filename != `clip "1".mp4` {
			t.Fatalf("chunk %d: unexpected part %+v", i, u)
		}
		if i == 0 && u.uploadID != "" {
			t.Fatal("first chunk must not carry an upload id")
		}
		if i > 0 && u.uploadID != "file-1" {
			t.Fatalf("chunk %d: expected upload id, got %q", i, u.uploadID)
		}
	}
}

func TestCreateFileSingleRequest(t *testing.T) {
	c, fake, _ := newTestClient(t)

	if _, err := c.Services().Storage.CreateFile(context.Background(), "files", "file-2", platform.InputFile{
		Name: "thumb.png",
		Body: strings.NewReader("small"),
	}); err != nil {
		t.Fatalf("create file: %v", err)
	}
	uploads := fake.seenUploads()
	if len(uploads) != 1 {
		t.Fatalf("expected a single request, got %d", len(uploads))
	}
	u := uploads[0]
	if u.contentRange != "" || u.data != "small" || u.mimeType != "application/octet-stream" {
		t.Fatalf("unexpected upload: %+v", u)
	}
}

func TestCreateFileRejectsBodyLargerThanDeclaredSize(t *testing.T) {
	c, fake, _ := newTestClient(t)

	_, err := c.Services().Storage.CreateFile(context.Background(), "files", "file-3", platform.InputFile{
		Name: "clip.mp4",
		Size: 10,
		Body: strings.NewReader(strings.Repeat("x", 100)),
	})
	var pErr *platform.Error
	if !errors.As(err, &pErr) || pErr.Code != http.StatusBadRequest || pErr.Type != "storage_invalid_file" {
		t.Fatalf("expected invalid file error, got %v", err)
	}
	if uploads := fake.seenUploads(); len(uploads) != 0 {
		t.Fatalf("expected nothing to be uploaded, got %+v", uploads)
	}

	if _, err := c.Services().Storage.CreateFile(context.Background(), "files", "file-4", platform.InputFile{
		Name: "clip.mp4",
		Size: 10,
		Body: strings.NewReader("short"),
	}); err == nil {
		t.Fatal("expected a body shorter than its declared size to fail")
	}
}

func TestDerivedURLs(t *testing.T) {
	ctx := context.Background()
	c, err := New(Config{Endpoint: "https://cloud.appwrite.io/v1", Project: "proj"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	services := c.Services()

	view, err := services.Storage.GetFileView(ctx, "bucket", "file-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view != "https://cloud.appwrite.io/v1/storage/buckets/bucket/files/file-1/view?project=proj" {
		t.Fatalf("unexpected view url %s", view)
	}

	preview, err := services.Storage.GetFilePreview(ctx, "bucket", "file-1", platform.PreviewOptions{Width: 2000, Height: 2000, Gravity: "top", Quality: 100})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	u, err := url.Parse(preview)
	if err != nil {
		t.Fatalf("parse preview url: %v", err)
	}
	if u.Path != "/v1/storage/buckets/bucket/files/file-1/preview" {
		t.Fatalf("unexpected preview path %s", u.Path)
	}
	q := u.Query()
	if q.Get("width") != "2000" || q.Get("height") != "2000" || q.Get("gravity") != "top" || q.Get("quality") != "100" || q.Get("project") != "proj" {
		t.Fatalf("unexpected preview params %v", q)
	}

	initials, err := services.Avatars.GetInitials(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("initials: %v", err)
	}
	if initials != "https://cloud.appwrite.io/v1/avatars/initials?name=Jane+Doe&project=proj" {
		t.Fatalf("unexpected initials url %s", initials)
	}
}

func TestDecodeErrorWithoutJSON(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down\n"))}
	err := decodeError(resp)
	var pErr *platform.Error
	if !errors.As(err, &pErr) {
		t.Fatalf("expected platform error, got %T", err)
	}
	if pErr.Code != http.StatusBadGateway || pErr.Message != "upstream down" {
		t.Fatalf("unexpected error: %+v", pErr)
	}

	empty := decodeError(&http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))})
	if empty.Error() != http.StatusText(http.StatusServiceUnavailable) {
		t.Fatalf("expected status text, got %q", empty.Error())
	}
}

func TestThrottle(t *testing.T) {
	var disabled *throttle
	if err := disabled.Wait(context.Background(), "GET /account"); err != nil {
		t.Fatalf("nil throttle must not block: %v", err)
	}
	if newThrottle(0, 5) != nil {
		t.Fatal("zero rate must disable throttling")
	}

	th := newThrottle(0.5, 1)
	if err := th.Wait(context.Background(), "GET /account"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Wait(ctx, "GET /account"); err == nil {
		t.Fatal("expected the second request on the same route to exceed the deadline")
	}
	if err := th.Wait(ctx, "POST /account"); err != nil {
		t.Fatalf("other routes have their own budget: %v", err)
	}
}

func TestThrottleExpiresIdleRoutes(t *testing.T) {
	th := newThrottle(10, 1)
	now := time.Now()
	th.now = func() time.Time { return now }

	if err := th.Wait(context.Background(), "a"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	now = now.Add(10 * time.Minute)
	if err := th.Wait(context.Background(), "b"); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if _, ok := th.routes["a"]; ok {
		t.Fatal("expected idle route to be dropped")
	}
}
