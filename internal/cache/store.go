// Package cache implements the content-addressed key/value store used
// for dependency and build caching. Payloads are stored as blobs named
// by their blake3 digest; a JSON manifest maps cache keys to blobs.
// A lookup miss is normal control flow, never an error.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/gantryci/gantry/internal/errors"
)

// Entry describes one cached payload
type Entry struct {
	Key       string    `json:"key"`
	Digest    string    `json:"digest"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// manifest is the on-disk index of the store
type manifest struct {
	Version   string            `json:"version"`
	Entries   map[string]*Entry `json:"entries"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store is a filesystem-backed cache safe for concurrent use.
// Concurrent writes to the same key are last-writer-wins; payloads for
// an unchanged key are expected to be content-identical.
type Store struct {
	dir     string
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewStore opens (or initializes) a cache store rooted at dir.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:     dir,
		entries: make(map[string]*Entry),
	}
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheIO, "create cache dir", err)
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.dir, "manifest.json")
}

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.dir, "blobs", digest)
}

func (s *Store) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeCacheIO, "read cache manifest", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(errors.ErrCodeCacheCorrupt, "unmarshal cache manifest", err).
			WithSuggestion("Delete the cache directory to start fresh")
	}
	if m.Entries != nil {
		s.entries = m.Entries
	}
	return nil
}

// saveManifest writes the index. Callers hold the lock.
func (s *Store) saveManifest() error {
	m := manifest{
		Version:   "1.0",
		Entries:   s.entries,
		UpdatedAt: time.Now(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCacheIO, "marshal cache manifest", err)
	}
	if err := os.WriteFile(s.manifestPath(), data, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeCacheIO, "write cache manifest", err)
	}
	return nil
}

// Get returns the entry for an exact key. The second return is false
// on a miss.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Restore implements the restore-then-fallback pattern: an exact match
// on the primary key wins; otherwise each restore key is treated as a
// prefix, and among prefix hits the most specific match is chosen
// (longest stored key, newest entry on ties). The returned key tells
// the caller whether the hit was exact.
func (s *Store) Restore(primary string, restoreKeys []string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[primary]; ok {
		return e, true
	}

	for _, prefix := range restoreKeys {
		var hits []*Entry
		for key, e := range s.entries {
			if strings.HasPrefix(key, prefix) {
				hits = append(hits, e)
			}
		}
		if len(hits) == 0 {
			continue
		}
		sort.Slice(hits, func(i, j int) bool {
			if len(hits[i].Key) != len(hits[j].Key) {
				return len(hits[i].Key) > len(hits[j].Key)
			}
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		})
		return hits[0], true
	}

	return nil, false
}

// Put stores a payload under the key. Re-putting an existing key
// overwrites silently.
func (s *Store) Put(key string, payload []byte) (*Entry, error) {
	digest := digestOf(payload)

	if err := os.WriteFile(s.blobPath(digest), payload, 0644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheIO, "write cache blob", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &Entry{
		Key:       key,
		Digest:    digest,
		SizeBytes: int64(len(payload)),
		CreatedAt: time.Now(),
	}
	s.entries[key] = e

	if err := s.saveManifest(); err != nil {
		return nil, err
	}
	return e, nil
}

// Read returns a cached payload, verifying its digest.
func (s *Store) Read(e *Entry) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(e.Digest))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheIO, "read cache blob", err)
	}
	if digestOf(data) != e.Digest {
		return nil, errors.Newf(errors.ErrCodeCacheCorrupt,
			"cache blob for key %q does not match its digest", e.Key).
			WithSuggestion("Delete the cache directory to start fresh")
	}
	return data, nil
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// HashFiles computes a stable blake3 digest over the named files, for
// deriving content-addressed cache keys such as npm-<hash of lockfile>.
// File order does not affect the result.
func HashFiles(paths ...string) (string, error) {
	sorted := append([]string{}, paths...)
	sort.Strings(sorted)

	hasher := blake3.New()
	for _, path := range sorted {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeCacheIO, "hash input file", err)
		}
		// Separate name and content so renames change the key.
		fmt.Fprintf(hasher, "%s\x00", filepath.Base(path))
		if _, err := hasher.Write(data); err != nil {
			return "", errors.Wrap(errors.ErrCodeCacheIO, "hash input file", err)
		}
		hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
