// Package artifact implements the named, per-run storage used to hand
// files between jobs. Artifacts are immutable once published: a second
// publish of the same (name, run) pair is an error, and fetching an
// absent artifact is fatal to the requesting job.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/gantryci/gantry/internal/errors"
)

// Record describes one published artifact
type Record struct {
	Name        string    `json:"name"`
	RunID       string    `json:"run_id"`
	ProducedBy  string    `json:"produced_by"`
	Digest      string    `json:"digest"`
	SizeBytes   int64     `json:"size_bytes"`
	PublishedAt time.Time `json:"published_at"`
}

// Registry is a filesystem-backed artifact store safe for concurrent
// use by jobs of the same run.
type Registry struct {
	dir     string
	mu      sync.Mutex
	records map[string]*Record // keyed by runID/name
}

// NewRegistry opens (or initializes) an artifact registry rooted at dir.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:     dir,
		records: make(map[string]*Record),
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeArtifactIO, "create artifact dir", err)
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

func recordKey(name, runID string) string {
	return runID + "/" + name
}

func (r *Registry) indexPath() string {
	return filepath.Join(r.dir, "index.json")
}

func (r *Registry) payloadPath(rec *Record) string {
	return filepath.Join(r.dir, rec.RunID, rec.Name)
}

func (r *Registry) loadIndex() error {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeArtifactIO, "read artifact index", err)
	}
	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.Wrap(errors.ErrCodeArtifactChecksum, "unmarshal artifact index", err)
	}
	r.records = records
	return nil
}

// saveIndex writes the index. Callers hold the lock.
func (r *Registry) saveIndex() error {
	data, err := json.MarshalIndent(r.records, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeArtifactIO, "marshal artifact index", err)
	}
	if err := os.WriteFile(r.indexPath(), data, 0644); err != nil {
		return errors.Wrap(errors.ErrCodeArtifactIO, "write artifact index", err)
	}
	return nil
}

// Publish stores a payload under (name, runID). Only the producing job
// ever publishes an artifact; a duplicate publish is a hard failure.
func (r *Registry) Publish(name, runID, producedBy string, payload []byte) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := recordKey(name, runID)
	if _, ok := r.records[key]; ok {
		return nil, errors.NewDuplicatePublishError(name, runID)
	}

	rec := &Record{
		Name:        name,
		RunID:       runID,
		ProducedBy:  producedBy,
		Digest:      digestOf(payload),
		SizeBytes:   int64(len(payload)),
		PublishedAt: time.Now(),
	}

	if err := os.MkdirAll(filepath.Dir(r.payloadPath(rec)), 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeArtifactIO, "create run dir", err)
	}
	if err := os.WriteFile(r.payloadPath(rec), payload, 0644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeArtifactIO, "write artifact payload", err)
	}

	r.records[key] = rec
	if err := r.saveIndex(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Fetch returns a published payload, verifying its checksum. Absence
// is fatal to the requesting job: it cannot proceed without the
// artifact.
func (r *Registry) Fetch(name, runID string) ([]byte, error) {
	r.mu.Lock()
	rec, ok := r.records[recordKey(name, runID)]
	r.mu.Unlock()

	if !ok {
		return nil, errors.NewArtifactNotFoundError(name, runID)
	}

	data, err := os.ReadFile(r.payloadPath(rec))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArtifactIO,
			fmt.Sprintf("read artifact %q payload", name), err)
	}
	if digestOf(data) != rec.Digest {
		return nil, errors.Newf(errors.ErrCodeArtifactChecksum,
			"artifact %q payload does not match its recorded digest", name)
	}
	return data, nil
}

// Stat returns the record for (name, runID) without reading the payload.
func (r *Registry) Stat(name, runID string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[recordKey(name, runID)]
	return rec, ok
}

// Prune removes artifacts published before the retention cutoff and
// returns how many were removed.
func (r *Registry) Prune(maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for key, rec := range r.records {
		if time.Since(rec.PublishedAt) > maxAge {
			if err := os.Remove(r.payloadPath(rec)); err != nil && !os.IsNotExist(err) {
				return pruned, errors.Wrap(errors.ErrCodeArtifactIO, "remove artifact payload", err)
			}
			delete(r.records, key)
			pruned++
		}
	}
	if pruned > 0 {
		if err := r.saveIndex(); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
