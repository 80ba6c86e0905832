package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestGetMissIsNotAnError(t *testing.T) {
	s := newStore(t)
	entry, ok := s.Get("npm-deadbeef")
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)

	payload := []byte("node_modules snapshot")
	_, err := s.Put("npm-abc123", payload)
	require.NoError(t, err)

	entry, ok := s.Get("npm-abc123")
	require.True(t, ok)
	assert.Equal(t, int64(len(payload)), entry.SizeBytes)

	data, err := s.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestPutIsIdempotent(t *testing.T) {
	s := newStore(t)

	payload := []byte("same payload")
	first, err := s.Put("key", payload)
	require.NoError(t, err)

	// Re-putting the identical key/payload leaves Get behavior unchanged.
	second, err := s.Put("key", payload)
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)

	entry, ok := s.Get("key")
	require.True(t, ok)
	data, err := s.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, 1, s.Len())
}

func TestPutLastWriterWins(t *testing.T) {
	s := newStore(t)

	_, err := s.Put("key", []byte("old"))
	require.NoError(t, err)
	_, err = s.Put("key", []byte("new"))
	require.NoError(t, err)

	entry, ok := s.Get("key")
	require.True(t, ok)
	data, err := s.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestRestoreFallsBackToPrefix(t *testing.T) {
	s := newStore(t)

	// Entry from an older lockfile hash is present; the primary key is not.
	_, err := s.Put("npm-hashB", []byte("stale but usable"))
	require.NoError(t, err)

	entry, ok := s.Restore("npm-hashA", []string{"npm-"})
	require.True(t, ok)
	assert.Equal(t, "npm-hashB", entry.Key)

	data, err := s.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, []byte("stale but usable"), data)
}

func TestRestorePrefersExactThenMostSpecific(t *testing.T) {
	s := newStore(t)

	_, err := s.Put("npm-linux", []byte("coarse"))
	require.NoError(t, err)
	_, err = s.Put("npm-linux-node20", []byte("specific"))
	require.NoError(t, err)
	_, err = s.Put("npm-linux-node20-hashA", []byte("exact"))
	require.NoError(t, err)

	entry, ok := s.Restore("npm-linux-node20-hashA", []string{"npm-linux-node20", "npm-linux"})
	require.True(t, ok)
	assert.Equal(t, "npm-linux-node20-hashA", entry.Key)

	// Without the exact key, the longest prefix match wins.
	entry, ok = s.Restore("npm-linux-node20-hashB", []string{"npm-linux-node20", "npm-linux"})
	require.True(t, ok)
	assert.Equal(t, "npm-linux-node20-hashA", entry.Key)
}

func TestRestoreTieBreaksByRecency(t *testing.T) {
	s := newStore(t)

	older, err := s.Put("npm-aaaa", []byte("older"))
	require.NoError(t, err)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)

	_, err = s.Put("npm-bbbb", []byte("newer"))
	require.NoError(t, err)

	entry, ok := s.Restore("npm-cccc", []string{"npm-"})
	require.True(t, ok)
	assert.Equal(t, "npm-bbbb", entry.Key)
}

func TestRestoreMiss(t *testing.T) {
	s := newStore(t)
	_, ok := s.Restore("npm-hashA", []string{"pip-", "cargo-"})
	assert.False(t, ok)
}

func TestManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err)
	_, err = s.Put("key", []byte("payload"))
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	entry, ok := reopened.Get("key")
	require.True(t, ok)
	data, err := reopened.Read(entry)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestReadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	entry, err := s.Put("key", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blobs", entry.Digest), []byte("tampered"), 0644))

	_, err = s.Read(entry)
	assert.Error(t, err)
}

func TestHashFilesIsOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "package-lock.json")
	b := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(a, []byte(`{"lock": 1}`), 0644))
	require.NoError(t, os.WriteFile(b, []byte(`{"name": "app"}`), 0644))

	h1, err := HashFiles(a, b)
	require.NoError(t, err)
	h2, err := HashFiles(b, a)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Changing content changes the hash.
	require.NoError(t, os.WriteFile(a, []byte(`{"lock": 2}`), 0644))
	h3, err := HashFiles(a, b)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
