package platform

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// InputFile describes a blob to upload. Body takes precedence over URI.
type InputFile struct {
	Name     string
	MimeType string
	Size     int64
	URI      string
	Body     io.Reader
}

// Open returns a reader over the file contents. The caller closes it.
func (f InputFile) Open() (io.ReadCloser, error) {
	if f.Body != nil {
		if rc, ok := f.Body.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(f.Body), nil
	}

	path, err := localPath(f.URI)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	return file, nil
}

func localPath(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", errors.New("input file has neither body nor uri")
	}
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse file uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported file uri scheme %q", u.Scheme)
	}
	return u.Path, nil
}
