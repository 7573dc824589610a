// Package sessionstore persists the opaque authenticated-session blob that a
// fresh browser context is seeded from. One store file can hold the blobs of
// several hosts; each blob is written wholesale by bootstrap and only ever
// read afterwards.
package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrSessionMissing indicates no session blob exists for the requested host.
var ErrSessionMissing = errors.New("session missing")

// Store reads and writes session blobs at a single file path.
type Store struct {
	path string
}

// New creates a store backed by the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// hostKey escapes a host name for use as a gjson/sjson object key.
func hostKey(host string) string {
	return strings.ReplaceAll(host, ".", `\.`)
}

// Load returns the raw session blob stored for host. It fails with
// ErrSessionMissing when the store file or the host entry does not exist.
func (s *Store) Load(host string) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no session file at %s", ErrSessionMissing, s.path)
		}
		return nil, fmt.Errorf("failed to read session file %s: %w", s.path, err)
	}

	entry := gjson.GetBytes(data, hostKey(host))
	if !entry.Exists() {
		return nil, fmt.Errorf("%w: no session for host %s in %s", ErrSessionMissing, host, s.path)
	}
	return []byte(entry.Raw), nil
}

// Save stores the raw session blob for host, replacing any previous entry.
// Blobs of other hosts in the same file are preserved. The write is atomic:
// the file is staged alongside the target and renamed into place.
func (s *Store) Save(host string, blob []byte) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read session file %s: %w", s.path, err)
		}
		data = []byte("{}")
	}

	updated, err := sjson.SetRawBytes(data, hostKey(host), blob)
	if err != nil {
		return fmt.Errorf("failed to update session entry for %s: %w", host, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, updated, 0600); err != nil {
		return fmt.Errorf("failed to stage session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// LoadToFile extracts the blob for host into a private temp file the
// automation engine can consume directly. The caller must invoke cleanup.
func (s *Store) LoadToFile(host string) (path string, cleanup func(), err error) {
	blob, err := s.Load(host)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "cardsync-session-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp session file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to close temp session file: %w", err)
	}

	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
