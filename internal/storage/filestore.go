// Package storage persists generated image bytes and maps them to public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidKey is returned for empty keys or keys escaping the root.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNoStore is returned when a nil FileStore is used.
	ErrNoStore = errors.New("storage: no store configured")
)

// FileStore writes images below a root directory that is served at baseURL.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root, baseURL string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure root: %w", err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

// Root returns the directory images are written to.
func (s *FileStore) Root() string {
	if s == nil {
		return ""
	}
	return s.root
}

// Save writes data under key and returns the public URL of the file.
func (s *FileStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", ErrNoStore
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}

	// write then rename so readers never see a partial image
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}

	return s.URL(clean), nil
}

// URL returns the public URL of an already cleaned key.
func (s *FileStore) URL(key string) string {
	if s.baseURL == "" {
		return "/" + key
	}
	return s.baseURL + "/" + key
}

// ImageKey builds the storage key of one slot output.
func ImageKey(taskID string, index int, mimeType string) string {
	if index < 0 {
		index = 0
	}
	return fmt.Sprintf("generated/%s/slot-%d%s", taskID, index, ExtensionFor(mimeType))
}

// ExtensionFor maps an image MIME type to a file extension.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// CleanKey normalises key and rejects keys that would escape the root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
