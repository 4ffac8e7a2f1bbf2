package attachstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store writes attachment payloads to disk and hands back stable handles.
// Message rows keep the handle and descriptor, never the bytes.
type Store struct {
	dir string
}

// New creates the attachment store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating attachment directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put stores one payload and returns its handle and sha256 hex digest.
// The handle is opaque to callers and stable for the life of the store.
func (s *Store) Put(content []byte) (handle string, digest string, err error) {
	handle = uuid.NewString()

	sum := sha256.Sum256(content)
	digest = hex.EncodeToString(sum[:])

	// Shard by handle prefix to keep directories small
	dir := filepath.Join(s.dir, handle[:2])
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", err
	}

	path := filepath.Join(dir, handle)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", "", err
	}

	return handle, digest, nil
}

// Get reads a payload back by handle.
func (s *Store) Get(handle string) ([]byte, error) {
	if len(handle) < 2 {
		return nil, fmt.Errorf("invalid attachment handle %q", handle)
	}
	return os.ReadFile(filepath.Join(s.dir, handle[:2], handle))
}

// Delete removes a payload. Missing files are not an error.
func (s *Store) Delete(handle string) error {
	if len(handle) < 2 {
		return fmt.Errorf("invalid attachment handle %q", handle)
	}
	err := os.Remove(filepath.Join(s.dir, handle[:2], handle))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
