// Package docstore provides durable keyed document storage.
//
// Documents are replaced atomically: every write goes to a temporary file
// that is fsynced and renamed over the real one, so readers never observe a
// partially written document and a crash mid-write leaves the previous
// version intact.
package docstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocumentStore is generic keyed document storage shared by the memory and
// scratchpad stores. Keys are caller-supplied strings; one key per
// independent document.
type DocumentStore interface {
	// Load returns the document for key. found is false when no document
	// exists yet; that is not an error.
	Load(ctx context.Context, key string) (content string, found bool, err error)

	// Save atomically replaces the document for key.
	Save(ctx context.Context, key, content string) error

	// Delete removes the document for key. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, key string) error
}

// FileStore implements DocumentStore over a single directory, one file per
// key.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed document store rooted at dir. The
// directory is created if missing, owner-only.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("docstore: dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("docstore: failed to create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a key to a file path inside the store directory.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key))
}

// Load implements DocumentStore.
func (s *FileStore) Load(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("docstore: failed to load %q: %w", key, err)
	}
	return string(data), true, nil
}

// Save implements DocumentStore using write-to-temp plus atomic rename.
func (s *FileStore) Save(_ context.Context, key, content string) error {
	path := s.path(key)

	tmpPath := path + ".tmp." + randomSuffix()
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("docstore: failed to create temp file for %q: %w", key, err)
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("docstore: failed to write %q: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("docstore: failed to sync %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("docstore: failed to close %q: %w", key, err)
	}

	// Atomic rename prevents partial reads.
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("docstore: failed to finalize %q: %w", key, err)
	}

	// Sweep temp files left by interrupted earlier writes of this key.
	if stale, err := filepath.Glob(path + ".tmp.*"); err == nil {
		for _, p := range stale {
			os.Remove(p)
		}
	}

	return nil
}

// Delete implements DocumentStore.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("docstore: failed to delete %q: %w", key, err)
	}
	return nil
}

// sanitizeKey maps an arbitrary key to a safe filename. Only alphanumerics,
// dots, hyphens and underscores survive; anything else becomes an
// underscore. Any key that sanitization altered gets a hash of the raw key
// appended, so distinct keys never share a file ("group/42" and "group_42"
// would otherwise collide).
func sanitizeKey(key string) string {
	var result strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			result.WriteRune(r)
		default:
			result.WriteRune('_')
		}
	}

	out := result.String()
	if out == key {
		return out
	}
	hash := sha256.Sum256([]byte(key))
	if strings.Trim(out, "._") == "" {
		return "k_" + hex.EncodeToString(hash[:8])
	}
	return out + "-" + hex.EncodeToString(hash[:8])
}

// randomSuffix generates a random suffix for temp files.
func randomSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
