package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

// LocalStore keeps blobs under a directory and returns file:// URLs.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

// Upload writes data to path under the store directory
func (l *LocalStore) Upload(ctx context.Context, p string, data []byte) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", domain.NewError("upload", p, errors.Join(domain.ErrUploadFailed, err))
	}
	if err := ctx.Err(); err != nil {
		return "", domain.NewError("upload", clean, errors.Join(domain.ErrUploadFailed, err))
	}

	full := filepath.Join(l.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", domain.NewError("upload", clean, errors.Join(domain.ErrUploadFailed, err))
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", domain.NewError("upload", clean, errors.Join(domain.ErrUploadFailed, err))
	}
	return fileURL(full), nil
}

// URL returns the file:// URL of an existing blob
func (l *LocalStore) URL(ctx context.Context, p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", domain.NewError("url", p, err)
	}

	full := filepath.Join(l.dir, filepath.FromSlash(clean))
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.NewError("url", clean, domain.ErrObjectNotFound)
		}
		return "", domain.NewError("url", clean, err)
	}
	return fileURL(full), nil
}

// Delete removes a blob file
func (l *LocalStore) Delete(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return domain.NewError("delete", p, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.NewError("delete", clean, err)
	}

	full := filepath.Join(l.dir, filepath.FromSlash(clean))
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewError("delete", clean, err)
	}
	return nil
}

func fileURL(full string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(full)}
	return u.String()
}
