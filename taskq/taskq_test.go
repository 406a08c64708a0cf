package taskq_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/dbopen"
	"github.com/hazyhaar/moisson/taskq"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t)
}

func newQ(t *testing.T, db *sql.DB, opts taskq.Options) *taskq.Q {
	t.Helper()
	q := taskq.New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return q
}

func TestEnqueueAndClaim(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	added, err := q.Enqueue(ctx, "s1", []string{
		"https://example.com/in/alice",
		"https://example.com/in/bob",
		"https://example.com/in/carol",
	})
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 {
		t.Fatalf("got added %d, want 3", added)
	}

	tasks, err := q.Claim(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != taskq.StatusProcessing {
			t.Fatalf("got status %q, want processing", task.Status)
		}
		if task.Attempts != 1 {
			t.Fatalf("got attempts %d, want 1", task.Attempts)
		}
	}

	// One pending left.
	rest, err := q.Claim(ctx, "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Fatalf("got %d remaining tasks, want 1", len(rest))
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	url := "https://example.com/in/alice"
	q.Enqueue(ctx, "s1", []string{url})

	tasks, _ := q.Claim(ctx, "s1", 1)
	if err := q.Complete(ctx, "s1", tasks[0].URL); err != nil {
		t.Fatal(err)
	}

	// Re-enqueueing a known URL is a no-op, even once completed.
	added, err := q.Enqueue(ctx, "s1", []string{url})
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Fatalf("got added %d, want 0", added)
	}

	again, _ := q.Claim(ctx, "s1", 1)
	if len(again) != 0 {
		t.Fatal("completed task should not be claimable again")
	}
}

func TestCompleteAndFailCounts(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	q.Enqueue(ctx, "s1", []string{
		"https://example.com/in/alice",
		"https://example.com/in/bob",
		"https://example.com/in/carol",
	})
	tasks, _ := q.Claim(ctx, "s1", 3)

	q.Complete(ctx, "s1", tasks[0].URL)
	q.Complete(ctx, "s1", tasks[1].URL)
	if err := q.Fail(ctx, "s1", tasks[2].URL, "navigation timeout"); err != nil {
		t.Fatal(err)
	}

	counts, err := q.Counts(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[taskq.StatusCompleted] != 2 {
		t.Fatalf("got %d completed, want 2", counts[taskq.StatusCompleted])
	}
	if counts[taskq.StatusFailed] != 1 {
		t.Fatalf("got %d failed, want 1", counts[taskq.StatusFailed])
	}
	if counts[taskq.StatusPending] != 0 {
		t.Fatalf("got %d pending, want 0", counts[taskq.StatusPending])
	}
}

func TestResetFailedHonorsMaxAttempts(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{MaxAttempts: 2})
	ctx := context.Background()

	url := "https://example.com/in/alice"
	q.Enqueue(ctx, "s1", []string{url})

	// First attempt fails.
	q.Claim(ctx, "s1", 1)
	q.Fail(ctx, "s1", url, "timeout")

	// attempts=1 < 2, so the retry pass picks it up.
	n, err := q.ResetFailed(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d reset, want 1", n)
	}

	tasks, _ := q.Claim(ctx, "s1", 1)
	if len(tasks) != 1 {
		t.Fatal("expected task after reset")
	}
	if tasks[0].Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", tasks[0].Attempts)
	}
	q.Fail(ctx, "s1", url, "timeout again")

	// attempts=2 is no longer below MaxAttempts.
	n, err = q.ResetFailed(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %d reset, want 0 for an exhausted task", n)
	}

	counts, _ := q.Counts(ctx, "s1")
	if counts[taskq.StatusFailed] != 1 {
		t.Fatalf("exhausted task should stay failed, got %v", counts)
	}
}

func TestFailRecordsCause(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	url := "https://example.com/in/alice"
	q.Enqueue(ctx, "s1", []string{url})
	q.Claim(ctx, "s1", 1)
	q.Fail(ctx, "s1", url, "status 429")

	q.ResetFailed(ctx, "s1")
	tasks, _ := q.Claim(ctx, "s1", 1)
	if len(tasks) != 1 {
		t.Fatal("expected task")
	}
	if tasks[0].LastError != "status 429" {
		t.Fatalf("got last error %q, want %q", tasks[0].LastError, "status 429")
	}
}

func TestReclaimStale(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{StaleAfter: 50 * time.Millisecond})
	ctx := context.Background()

	q.Enqueue(ctx, "s1", []string{"https://example.com/in/alice"})
	q.Claim(ctx, "s1", 1) // processing, holder then "crashes"

	// Too fresh to reclaim.
	n, err := q.ReclaimStale(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %d reclaimed, want 0", n)
	}

	time.Sleep(80 * time.Millisecond)

	n, err = q.ReclaimStale(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d reclaimed, want 1", n)
	}

	tasks, _ := q.Claim(ctx, "s1", 1)
	if len(tasks) != 1 {
		t.Fatal("reclaimed task should be claimable")
	}
	if tasks[0].Attempts != 2 {
		t.Fatalf("got attempts %d, want 2", tasks[0].Attempts)
	}
}

func TestRelease(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	url := "https://example.com/in/alice"
	q.Enqueue(ctx, "s1", []string{url})
	q.Claim(ctx, "s1", 1)

	// Chunk cancelled before the task ran; attempt does not count.
	if err := q.Release(ctx, "s1", url); err != nil {
		t.Fatal(err)
	}

	tasks, _ := q.Claim(ctx, "s1", 1)
	if len(tasks) != 1 {
		t.Fatal("released task should be claimable")
	}
	if tasks[0].Attempts != 1 {
		t.Fatalf("got attempts %d, want 1", tasks[0].Attempts)
	}
}

func TestSessionIsolation(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	// Same URL in two sessions is two independent tasks.
	url := "https://example.com/in/alice"
	q.Enqueue(ctx, "s1", []string{url})
	q.Enqueue(ctx, "s2", []string{url})

	t1, _ := q.Claim(ctx, "s1", 10)
	if len(t1) != 1 || t1[0].SessionID != "s1" {
		t.Fatalf("s1 claim got %v", t1)
	}

	// s1's claim must not consume s2's task.
	t2, _ := q.Claim(ctx, "s2", 10)
	if len(t2) != 1 || t2[0].SessionID != "s2" {
		t.Fatalf("s2 claim got %v", t2)
	}
}

func TestClaimEmpty(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	tasks, err := q.Claim(ctx, "s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if tasks == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(tasks) != 0 {
		t.Fatalf("expected 0 tasks, got %d", len(tasks))
	}
}

func TestPurge(t *testing.T) {
	db := openDB(t)
	q := newQ(t, db, taskq.Options{})
	ctx := context.Background()

	q.Enqueue(ctx, "s1", []string{"https://example.com/in/alice", "https://example.com/in/bob"})
	q.Enqueue(ctx, "s2", []string{"https://example.com/in/carol"})

	if err := q.Purge(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	counts, _ := q.Counts(ctx, "s1")
	if len(counts) != 0 {
		t.Fatalf("expected s1 empty after purge, got %v", counts)
	}

	// Other sessions untouched.
	counts2, _ := q.Counts(ctx, "s2")
	if counts2[taskq.StatusPending] != 1 {
		t.Fatalf("s2 should keep its task, got %v", counts2)
	}
}
