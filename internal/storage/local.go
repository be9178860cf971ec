// Package storage keeps attachment bytes outside the database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for keys that would escape the storage root.
var ErrInvalidPath = errors.New("invalid storage path")

// Blobs stores opaque byte payloads and hands out URLs for them.
type Blobs interface {
	Put(ctx context.Context, filename string, content []byte) (storagePath string, err error)
	Delete(ctx context.Context, storagePath string) error
	URL(storagePath string) string
}

// LocalBlobs stores blobs on the local filesystem under a root directory.
// Keys look like "3f/3f2a....pdf": a random UUID fanned out by its first two
// characters, keeping the original file extension.
type LocalBlobs struct {
	root    string
	baseURL string
}

func NewLocalBlobs(root, baseURL string) (*LocalBlobs, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalBlobs{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Root is the directory blobs are written to.
func (b *LocalBlobs) Root() string {
	return b.root
}

func (b *LocalBlobs) Put(ctx context.Context, filename string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	key := path.Join(id[:2], id+extension(filename))

	full := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(full, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return key, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (b *LocalBlobs) Delete(ctx context.Context, storagePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := b.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (b *LocalBlobs) URL(storagePath string) string {
	return b.baseURL + "/" + storagePath
}

func (b *LocalBlobs) resolve(storagePath string) (string, error) {
	clean := path.Clean("/" + storagePath)
	if clean == "/" || clean != "/"+storagePath {
		return "", ErrInvalidPath
	}
	return filepath.Join(b.root, filepath.FromSlash(clean[1:])), nil
}

// extension returns the lower-cased extension of filename when it is short
// and alphanumeric, or "" otherwise.
func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
