package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps the session secret in a file readable only by the current user,
// so that separate CLI invocations share one login.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore writing to path. An empty path resolves to
// <user config dir>/pixel/session.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "pixel", "session")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the saved secret; a missing file means no session.
func (s *FileStore) Load(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the secret, creating parent directories as needed.
func (s *FileStore) Save(_ context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(secret), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the session file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
