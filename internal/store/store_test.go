package store

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGetAnalysis(t *testing.T) {
	db := openTestDB(t)

	if err := InsertAnalysis(db, "abc-123", "voters.csv", 2048); err != nil {
		t.Fatalf("InsertAnalysis failed: %v", err)
	}

	a, err := GetAnalysis(db, "abc-123")
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if a.ID != "abc-123" || a.Filename != "voters.csv" || a.SizeBytes != 2048 {
		t.Fatalf("row mismatch: %+v", a)
	}
	if a.Status != StatusQueued {
		t.Fatalf("expected queued, got %q", a.Status)
	}
	if a.CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}
}

func TestStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	if err := InsertAnalysis(db, "job-1", "f.csv", 10); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := MarkProcessing(db, "job-1"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	a, _ := GetAnalysis(db, "job-1")
	if a.Status != StatusProcessing {
		t.Fatalf("expected processing, got %q", a.Status)
	}

	if err := CompleteAnalysis(db, "job-1", `{"dataset":"f"}`); err != nil {
		t.Fatalf("CompleteAnalysis failed: %v", err)
	}
	a, _ = GetAnalysis(db, "job-1")
	if a.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", a.Status)
	}
	if a.ResultJSON != `{"dataset":"f"}` {
		t.Fatalf("result json not stored: %q", a.ResultJSON)
	}
	if a.Error != "" {
		t.Fatalf("error should be cleared: %q", a.Error)
	}
}

func TestFailAnalysis(t *testing.T) {
	db := openTestDB(t)
	if err := InsertAnalysis(db, "job-2", "f.csv", 10); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := FailAnalysis(db, "job-2", "no data rows"); err != nil {
		t.Fatalf("FailAnalysis failed: %v", err)
	}
	a, _ := GetAnalysis(db, "job-2")
	if a.Status != StatusError || a.Error != "no data rows" {
		t.Fatalf("failure not recorded: %+v", a)
	}
}

func TestUpdateMissingAnalysis(t *testing.T) {
	db := openTestDB(t)
	err := MarkProcessing(db, "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestGetMissingAnalysis(t *testing.T) {
	db := openTestDB(t)
	_, err := GetAnalysis(db, "nope")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListAnalyses(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := InsertAnalysis(db, id, id+".csv", 1); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	list, err := ListAnalyses(db)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(list))
	}
	// Same-second inserts fall back to id ordering, newest first.
	if list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("unexpected order: %v %v %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"old-done", "old-failed", "old-processing", "new-done"} {
		if err := InsertAnalysis(db, id, id+".csv", 1); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := CompleteAnalysis(db, "old-done", "{}"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := FailAnalysis(db, "old-failed", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := MarkProcessing(db, "old-processing"); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := CompleteAnalysis(db, "new-done", "{}"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Backdate the three "old" rows beyond the retention window.
	old := time.Now().UTC().Add(-48 * time.Hour).Format("2006-01-02 15:04:05")
	for _, id := range []string{"old-done", "old-failed", "old-processing"} {
		if _, err := db.Exec(`UPDATE analyses SET created_at = ? WHERE id = ?`, old, id); err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	purged, err := PurgeOlderThan(db, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}

	if _, err := GetAnalysis(db, "old-done"); err != sql.ErrNoRows {
		t.Fatalf("old-done should be gone, got %v", err)
	}
	if _, err := GetAnalysis(db, "old-processing"); err != nil {
		t.Fatalf("in-flight row must survive purge: %v", err)
	}
	if _, err := GetAnalysis(db, "new-done"); err != nil {
		t.Fatalf("recent row must survive purge: %v", err)
	}
}
