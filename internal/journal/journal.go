// Package journal persists the audit trail of a pipeline run as an
// append-only JSONL file: one record per job state transition plus a
// terminal record carrying the overall result. Records are never
// rewritten in place.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/errors"
)

// Schema version for journal records
const SchemaVersion = 1

// Record is one journal line
type Record struct {
	Version    int               `json:"version"`
	Time       time.Time         `json:"time"`
	RunID      string            `json:"run_id"`
	Pipeline   string            `json:"pipeline,omitempty"`
	Event      string            `json:"event,omitempty"`
	Branch     string            `json:"branch,omitempty"`
	Job        string            `json:"job,omitempty"`
	Status     string            `json:"status"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	ExitStatus int               `json:"exit_status,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Result     string            `json:"result,omitempty"`
}

// Writer appends records to a run's journal file
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates (or continues) the journal for a run under dir.
func Open(dir, runID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunJournal, "create journal dir", err)
	}
	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunJournal, "open journal file", err)
	}
	return &Writer{file: file}, nil
}

// Append writes one record. The record's version and timestamp are
// filled in here so callers only describe the transition.
func (w *Writer) Append(rec Record) error {
	rec.Version = SchemaVersion
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRunJournal, "marshal journal record", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return errors.Wrap(errors.ErrCodeRunJournal, "append journal record", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Read loads all records of a run's journal, for inspection and tests.
func Read(dir, runID string) ([]Record, error) {
	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunJournal, "open journal file", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.Wrap(errors.ErrCodeRunJournal, "unmarshal journal record", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRunJournal, "scan journal file", err)
	}
	return records, nil
}
