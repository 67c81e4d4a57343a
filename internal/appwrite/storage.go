package appwrite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/bakaf/pixel/internal/platform"
)

// Storage implements platform.StorageService over the /storage routes.
type Storage struct {
	c *Client
}

type fileJSON struct {
	ID        string `json:"$id"`
	BucketID  string `json:"bucketId"`
	CreatedAt string `json:"$createdAt"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"sizeOriginal"`
}

func (f fileJSON) platform() platform.File {
	return platform.File{
		ID:        f.ID,
		BucketID:  f.BucketID,
		Name:      f.Name,
		MimeType:  f.MimeType,
		Size:      f.Size,
		CreatedAt: parseTime(f.CreatedAt),
	}
}

const filesRoute = "/storage/buckets/{bucketId}/files"

func filePath(bucketID, fileID, action string) string {
	p := "/storage/buckets/" + url.PathEscape(bucketID) + "/files"
	if fileID != "" {
		p += "/" + url.PathEscape(fileID)
	}
	if action != "" {
		p += "/" + action
	}
	return p
}

// CreateFile uploads file. Files larger than the chunk size are sent in
// Content-Range chunks tied together by the upload id, the way the platform's
// mobile SDKs upload.
func (s *Storage) CreateFile(ctx context.Context, bucketID, fileID string, file platform.InputFile) (platform.File, error) {
	rc, err := file.Open()
	if err != nil {
		return platform.File{}, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	var src io.Reader = rc
	size := file.Size
	if size <= 0 {
		data, err := io.ReadAll(rc)
		if err != nil {
			return platform.File{}, fmt.Errorf("read %s: %w", file.Name, err)
		}
		src = bytes.NewReader(data)
		size = int64(len(data))
	}

	name := file.Name
	if name == "" {
		name = fileID
	}
	chunkSize := s.c.chunkSize
	buf := make([]byte, min(chunkSize, max(size, 1)))

	var out fileJSON
	var uploadID string
	for offset := int64(0); ; {
		n := min(chunkSize, size-offset)
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return platform.File{}, fmt.Errorf("read %s: %w", name, err)
		}
		if offset+n >= size {
			if err := expectEOF(src); err != nil {
				return platform.File{}, fmt.Errorf("read %s: %w", name, err)
			}
		}

		body, contentType, err := multipartBody(fileID, name, file.MimeType, buf[:n])
		if err != nil {
			return platform.File{}, err
		}
		header := http.Header{}
		header.Set("Content-Type", contentType)
		if size > chunkSize {
			header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size))
		}
		if uploadID != "" {
			header.Set(headerUploadID, uploadID)
		}

		req := request{method: http.MethodPost, route: filesRoute, path: filePath(bucketID, "", ""), body: body, header: header}
		if err := s.c.do(ctx, req, &out); err != nil {
			return platform.File{}, err
		}
		uploadID = out.ID

		offset += n
		if offset >= size {
			break
		}
	}
	return out.platform(), nil
}

// expectEOF fails when src still holds bytes past the declared size.
func expectEOF(src io.Reader) error {
	var extra [1]byte
	n, err := io.ReadFull(src, extra[:])
	if n > 0 {
		return platform.Errorf(http.StatusBadRequest, "storage_invalid_file", "file is larger than its declared size")
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(fileID, name, mimeType string, chunk []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("fileId", fileID); err != nil {
		return nil, "", fmt.Errorf("write multipart field: %w", err)
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return nil, "", fmt.Errorf("write multipart file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &body, w.FormDataContentType(), nil
}

// GetFileView returns the URL serving the stored file. No request is made.
func (s *Storage) GetFileView(_ context.Context, bucketID, fileID string) (string, error) {
	return s.c.projectURL(filePath(bucketID, fileID, "view"), nil), nil
}

// GetFilePreview returns the URL of a resized image preview. No request is made.
func (s *Storage) GetFilePreview(_ context.Context, bucketID, fileID string, opts platform.PreviewOptions) (string, error) {
	params := url.Values{}
	if opts.Width > 0 {
		params.Set("width", strconv.Itoa(opts.Width))
	}
	if opts.Height > 0 {
		params.Set("height", strconv.Itoa(opts.Height))
	}
	if opts.Gravity != "" {
		params.Set("gravity", opts.Gravity)
	}
	if opts.Quality > 0 {
		params.Set("quality", strconv.Itoa(opts.Quality))
	}
	return s.c.projectURL(filePath(bucketID, fileID, "preview"), params), nil
}

var _ platform.StorageService = (*Storage)(nil)
