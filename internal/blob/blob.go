// Package blob stores uploaded model files and hands out download URLs.
package blob

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/thatjpcsguy/printtrack/internal/domain"
)

// STLContentType is used for .stl uploads whose bytes are not recognised.
const STLContentType = "model/stl"

// Store is a blob store.
type Store interface {
	// Upload stores data at path and returns a download URL.
	// Failures wrap domain.ErrUploadFailed.
	Upload(ctx context.Context, path string, data []byte) (string, error)

	// URL returns a download URL for path, or domain.ErrObjectNotFound.
	URL(ctx context.Context, path string) (string, error)

	// Delete removes the blob at path. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error
}

// ModelPath returns the storage path of a model uploaded for a part.
func ModelPath(project domain.ProjectID, partNumber string, unixMillis int64) string {
	return path.Join("projects", string(project), "stl", fmt.Sprintf("%s_%d.stl", partNumber, unixMillis))
}

// ContentType sniffs the content type of data, falling back to the file
// extension for formats the sniffer does not know.
func ContentType(name string, data []byte) string {
	mt := mimetype.Detect(data)
	if strings.EqualFold(filepath.Ext(name), ".stl") && (mt.Is("application/octet-stream") || mt.Is("text/plain")) {
		return STLContentType
	}
	return mt.String()
}

// cleanPath validates a relative blob path.
func cleanPath(p string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: invalid blob path %q", domain.ErrValidation, p)
	}
	return clean, nil
}
