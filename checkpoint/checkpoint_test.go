package checkpoint

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/dbopen"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func TestApplySchema(t *testing.T) {
	// WHAT: Verify schema creates the checkpoints table.
	// WHY: Resume depends on this table existing before first upsert.
	db := openTestDB(t)
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='checkpoints'`).Scan(&name)
	if err != nil {
		t.Fatalf("checkpoints table not found: %v", err)
	}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	// WHAT: Upserting the same session twice keeps a single row with the
	// latest values and the original created_at.
	// WHY: One checkpoint per session, never duplicated.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	cp := &Checkpoint{
		SessionID:   "embedded-dev_20260823T101500Z_x1",
		SearchQuery: "embedded dev",
		CurrentPage: 1,
		Status:      StatusRunning,
	}
	if err := s.Upsert(ctx, cp); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	firstCreated := cp.CreatedAt
	if firstCreated == 0 {
		t.Fatal("created_at should be stamped")
	}

	time.Sleep(2 * time.Millisecond)

	cp.CurrentPage = 4
	cp.ProfilesScraped = 37
	cp.ProfilesFailed = 2
	cp.ErrorCount = 1
	if err := s.Upsert(ctx, cp); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM checkpoints`).Scan(&count)
	if count != 1 {
		t.Fatalf("got %d rows, want 1", count)
	}

	got, err := s.Load(ctx, cp.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("checkpoint not found")
	}
	if got.CurrentPage != 4 {
		t.Errorf("current_page: got %d, want 4", got.CurrentPage)
	}
	if got.ProfilesScraped != 37 {
		t.Errorf("profiles_scraped: got %d, want 37", got.ProfilesScraped)
	}
	if got.CreatedAt != firstCreated {
		t.Errorf("created_at changed: got %d, want %d", got.CreatedAt, firstCreated)
	}
	if got.UpdatedAt <= firstCreated {
		t.Errorf("updated_at should advance, got %d", got.UpdatedAt)
	}
}

func TestLoadMissing(t *testing.T) {
	// WHAT: Loading an unknown session returns nil without error.
	// WHY: Callers branch on nil to decide between fresh start and resume.
	db := openTestDB(t)
	s := NewStore(db)

	got, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for missing checkpoint")
	}
}

func TestCanResume(t *testing.T) {
	// WHAT: Only running and paused checkpoints are resumable.
	// WHY: Resuming a completed or failed session would redo finished work.
	cases := []struct {
		status string
		want   bool
	}{
		{StatusRunning, true},
		{StatusPaused, true},
		{"idle", false},
		{"completed", false},
		{"failed", false},
		{"stopped", false},
		{"time_budget_exceeded", false},
		{"target_reached", false},
	}
	for _, tc := range cases {
		got := CanResume(&Checkpoint{Status: tc.status})
		if got != tc.want {
			t.Errorf("CanResume(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
	if CanResume(nil) {
		t.Error("CanResume(nil) should be false")
	}
}

func TestListMostRecentFirst(t *testing.T) {
	// WHAT: List orders checkpoints by updated_at descending.
	// WHY: The session listing surfaces the freshest run first.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.Upsert(ctx, &Checkpoint{SessionID: "older", Status: "completed"})
	time.Sleep(2 * time.Millisecond)
	s.Upsert(ctx, &Checkpoint{SessionID: "newer", Status: StatusRunning})

	cps, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("count: got %d, want 2", len(cps))
	}
	if cps[0].SessionID != "newer" {
		t.Errorf("first: got %q, want newer", cps[0].SessionID)
	}
}

func TestResumable(t *testing.T) {
	// WHAT: Resumable filters to running and paused sessions only.
	// WHY: The resume picker must not offer terminal sessions.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.Upsert(ctx, &Checkpoint{SessionID: "a", Status: StatusRunning})
	s.Upsert(ctx, &Checkpoint{SessionID: "b", Status: StatusPaused})
	s.Upsert(ctx, &Checkpoint{SessionID: "c", Status: "completed"})
	s.Upsert(ctx, &Checkpoint{SessionID: "d", Status: "failed"})

	cps, err := s.Resumable(ctx)
	if err != nil {
		t.Fatalf("resumable: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("count: got %d, want 2", len(cps))
	}
	for _, cp := range cps {
		if !CanResume(cp) {
			t.Errorf("session %q should be resumable", cp.SessionID)
		}
	}
}

func TestMarkStatus(t *testing.T) {
	// WHAT: MarkStatus flips only the status column.
	// WHY: Terminal transitions happen after the last full upsert.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.Upsert(ctx, &Checkpoint{SessionID: "s1", CurrentPage: 7, Status: StatusRunning})
	if err := s.MarkStatus(ctx, "s1", "failed"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, _ := s.Load(ctx, "s1")
	if got.Status != "failed" {
		t.Errorf("status: got %q, want failed", got.Status)
	}
	if got.CurrentPage != 7 {
		t.Errorf("current_page should be untouched, got %d", got.CurrentPage)
	}
}

func TestDelete(t *testing.T) {
	// WHAT: Delete removes the row.
	// WHY: Cleanup after a session is explicitly discarded.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.Upsert(ctx, &Checkpoint{SessionID: "s1", Status: StatusRunning})
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := s.Load(ctx, "s1")
	if got != nil {
		t.Fatal("checkpoint should be gone")
	}
}
