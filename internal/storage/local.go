package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrInvalidKey is returned when an object key escapes the store root.
var ErrInvalidKey = errors.New("storage: invalid object key")

// LocalStore implements ObjectStore on local disk. Objects are written under
// root and addressed as baseURL + "/" + key.
type LocalStore struct {
	root    string
	baseURL string
}

// Compile-time check that LocalStore implements ObjectStore.
var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates a new LocalStore instance.
// If root is empty, a "longrender/published" directory under os.TempDir() is
// used. The directory is created if it doesn't exist.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "longrender", "published")
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create publish directory: %w", err)
	}

	return &LocalStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root returns the directory objects are written to.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes body to root/key atomically and returns its public URL.
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	dest := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("create object file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, body); err != nil {
		return "", fmt.Errorf("write object file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("commit object file: %w", err)
	}

	return s.objectURL(clean), nil
}

func (s *LocalStore) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}
