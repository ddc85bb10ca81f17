// Package sessioncache persists authenticated browser state, one JSON file
// per cache key.
//
// A file's presence means an earlier login succeeded for that key. Files
// carry no expiry; a stale session is only noticed when the application
// rejects it, and the fixture then discards the file.
//
// No locking is done: keys are partitioned per worker identity, so two
// writers never share a file.
package sessioncache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/authharness/pkg/logging"
)

const fileExt = ".json"

var (
	// ErrNotCached means there is no artifact for the key.
	ErrNotCached = errors.New("session not cached")

	// ErrCorrupt means an artifact existed but could not be parsed. It has
	// already been removed; it also matches ErrNotCached.
	ErrCorrupt = fmt.Errorf("corrupt session artifact: %w", ErrNotCached)

	// ErrInvalidKey rejects keys that would escape the cache directory.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Store is a directory of storage-state files.
type Store struct {
	dir    string
	logger *logging.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily
// by Save.
func NewStore(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Discard("sessioncache")
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns where the artifact for key lives, whether or not it exists.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Exists reports whether a readable artifact is present for key.
func (s *Store) Exists(key string) bool {
	if validateKey(key) != nil {
		return false
	}
	f, err := os.Open(s.Path(key))
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

// Load returns the artifact path for key, for the browser to consume
// directly. The file is parsed once to make sure it is usable; a corrupt
// file is removed and ErrCorrupt returned so the caller logs in again.
func (s *Store) Load(key string) (string, error) {
	if _, err := s.Read(key); err != nil {
		return "", err
	}
	return s.Path(key), nil
}

// Read parses the artifact for key.
func (s *Store) Read(key string) (*State, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	path := s.Path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
		}
		return nil, fmt.Errorf("failed to read session artifact: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil || state.Cookies == nil {
		s.logger.Warnf("discarding corrupt session artifact %s: %v", path, err)
		if rmErr := s.Invalidate(key); rmErr != nil {
			s.logger.Warnf("failed to remove corrupt artifact %s: %v", path, rmErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, key)
	}
	return &state, nil
}

// Save writes cookies as the artifact for key, creating the cache
// directory if needed. The write goes through a temp file and a rename so a
// reader never sees a half-written artifact.
func (s *Store) Save(key string, cookies []Cookie) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if cookies == nil {
		cookies = []Cookie{}
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create session cache directory: %w", err)
	}

	data, err := json.MarshalIndent(State{Cookies: cookies, Origins: []Origin{}}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session artifact: %w", err)
	}

	path := s.Path(key)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session artifact: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename session artifact: %w", err)
	}

	s.logger.Debugf("saved %d cookies to %s", len(cookies), path)
	return nil
}

// Invalidate removes the artifact for key. A missing artifact is not an
// error.
func (s *Store) Invalidate(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session artifact: %w", err)
	}
	return nil
}

// Keys lists the cached keys in lexical order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list session cache: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge invalidates every key matching the glob pattern and returns the
// removed keys. An empty pattern matches everything.
func (s *Store) Purge(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, key := range keys {
		if !g.Match(key) {
			continue
		}
		if err := s.Invalidate(key); err != nil {
			return removed, err
		}
		removed = append(removed, key)
	}
	return removed, nil
}
