package depcache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FileCacheStore manages the on-disk dependency cache. Entry writes are
// atomic (write-tmp-then-rename) and serialized across processes with a
// directory-wide flock, so a crashed install never leaves a truncated
// entry behind.
type FileCacheStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileCacheStore creates a store rooted at dir, creating the
// directory if needed.
func NewFileCacheStore(dir string, logger *slog.Logger) (*FileCacheStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "envs"), 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileCacheStore{dir: dir, logger: logger}, nil
}

// Dir returns the cache root directory.
func (s *FileCacheStore) Dir() string {
	return s.dir
}

// Get returns the cached entry for name@version, refreshing its
// last-used timestamp on a hit. The bool reports whether it was found.
func (s *FileCacheStore) Get(name, version string) (*Entry, bool, error) {
	path := s.entryPath(name, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A torn or hand-edited entry is treated as a miss and removed
		// so the installer rebuilds it.
		s.logger.Warn("removing unreadable cache entry", "path", path, "error", err)
		_ = os.Remove(path)
		return nil, false, nil
	}

	entry.LastUsedAt = time.Now().UTC()
	if err := s.Put(&entry); err != nil {
		s.logger.Warn("failed to refresh cache entry", "name", name, "error", err)
	}
	return &entry, true, nil
}

// Put stores or replaces the entry for entry.Name@entry.Version.
func (s *FileCacheStore) Put(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if entry.InstalledAt.IsZero() {
		entry.InstalledAt = time.Now().UTC()
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.InstalledAt
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	data = append(data, '\n')

	return writeAtomic(s.entryPath(entry.Name, entry.Version), data)
}

// Remove deletes the entry and its environment directory, if any.
// Removing a missing entry is a no-op.
func (s *FileCacheStore) Remove(name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	return s.removeLocked(s.entryPath(name, version))
}

// List returns all cache entries.
func (s *FileCacheStore) List() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Sweep removes entries unused for longer than olderThan and returns
// how many were removed.
func (s *FileCacheStore) Sweep(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			// Unreadable entries are stale by definition.
			if err := s.removeLocked(path); err == nil {
				removed++
			}
			continue
		}

		lastUsed := entry.LastUsedAt
		if lastUsed.IsZero() {
			lastUsed = entry.InstalledAt
		}
		if lastUsed.After(cutoff) {
			continue
		}
		if err := s.removeLocked(path); err != nil {
			s.logger.Warn("failed to sweep cache entry", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("swept dependency cache", "removed", removed)
	}
	return removed, nil
}

// EnvDir returns the environment directory for name@version, creating
// it if needed. npm-package installs run inside it.
func (s *FileCacheStore) EnvDir(name, version string) (string, error) {
	dir := filepath.Join(s.dir, "envs", entryKey(name, version))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create environment directory: %w", err)
	}
	return dir, nil
}

// WriteEnvFile atomically writes a file into the environment directory
// for name@version and returns its path. The installer uses this to
// store resolved tool definitions alongside the cache entry.
func (s *FileCacheStore) WriteEnvFile(name, version, filename string, data []byte) (string, error) {
	dir, err := s.EnvDir(name, version)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// removeLocked deletes one entry file and its environment directory.
// Must be called with the mutex and flock held.
func (s *FileCacheStore) removeLocked(path string) error {
	data, err := os.ReadFile(path)
	if err == nil {
		var entry Entry
		if json.Unmarshal(data, &entry) == nil && entry.WorkDir != "" {
			// Only remove directories inside our own cache root.
			if inside, err := filepath.Rel(s.dir, entry.WorkDir); err == nil && !strings.HasPrefix(inside, "..") {
				_ = os.RemoveAll(entry.WorkDir)
			}
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// lock acquires the cross-process directory lock and returns the
// release function.
func (s *FileCacheStore) lock() (func(), error) {
	lockPath := filepath.Join(s.dir, "cache.lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockLock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return func() {
		_ = flockUnlock(lockFile.Fd())
		_ = lockFile.Close()
	}, nil
}

// entryPath maps name@version to its entry file.
func (s *FileCacheStore) entryPath(name, version string) string {
	return filepath.Join(s.dir, entryKey(name, version)+".json")
}

// entryKey builds a filesystem-safe, collision-free key: a readable
// slug plus a hash of the exact name@version pair. Tool names may
// contain spaces, which the slug alone could not distinguish.
func entryKey(name, version string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name+"@"+version)

	sum := xxhash.Sum64String(name + "\x00" + version)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	return slug + "-" + hex.EncodeToString(buf[:4])
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	// cleanup closes and removes the temp file on error.
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to entry: %w", err)
	}
	return nil
}
