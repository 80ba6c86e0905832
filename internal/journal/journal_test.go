package journal

import (
	"testing"
	"time"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	started := time.Now()
	records := []Record{
		{RunID: "run-1", Pipeline: "ci", Event: "push", Branch: "main", Status: "running"},
		{RunID: "run-1", Job: "setup", Status: "succeeded", StartedAt: &started},
		{RunID: "run-1", Job: "test", Status: "failed", ExitStatus: 1},
		{RunID: "run-1", Status: "finished", Result: "failure"},
	}
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := Read(dir, "run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	if got[0].Pipeline != "ci" || got[0].Event != "push" {
		t.Errorf("header record mismatch: %+v", got[0])
	}
	if got[2].Job != "test" || got[2].ExitStatus != 1 {
		t.Errorf("job record mismatch: %+v", got[2])
	}
	if got[3].Result != "failure" {
		t.Errorf("terminal record mismatch: %+v", got[3])
	}
	for i, rec := range got {
		if rec.Version != SchemaVersion {
			t.Errorf("record %d: version %d, want %d", i, rec.Version, SchemaVersion)
		}
		if rec.Time.IsZero() {
			t.Errorf("record %d: missing timestamp", i)
		}
	}
}

func TestJournalIsAppendOnlyAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Append(Record{RunID: "run-1", Status: "running"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	w.Close()

	// Reopening must keep earlier records intact.
	w, err = Open(dir, "run-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.Append(Record{RunID: "run-1", Status: "finished", Result: "success"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	w.Close()

	got, err := Read(dir, "run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Status != "running" || got[1].Result != "success" {
		t.Errorf("records out of order: %+v", got)
	}
}
