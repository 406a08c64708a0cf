package harvest_test

import (
	"fmt"
	"testing"

	"github.com/hazyhaar/moisson/harvest"
)

func TestSessionDedupCardinality(t *testing.T) {
	// WHAT: Discovering or scraping the same URL repeatedly counts once.
	// WHY: Progress counters are set cardinalities; re-extracting a page
	// after resume must not inflate them.
	s := harvest.NewSession("s1", "gophers", harvest.Options{Query: "gophers"})

	if !s.Discover("https://site.test/p/a") {
		t.Fatal("first discover should be new")
	}
	if s.Discover("https://site.test/p/a") {
		t.Error("second discover should not be new")
	}
	s.Discover("https://site.test/p/b")

	if !s.MarkScraped("https://site.test/p/a") {
		t.Fatal("first scrape should be new")
	}
	if s.MarkScraped("https://site.test/p/a") {
		t.Error("second scrape should not be new")
	}

	p := s.Progress()
	if p.ResumesScraped != 2 {
		t.Errorf("resumes_scraped: got %d, want 2", p.ResumesScraped)
	}
	if p.ProfilesScraped != 1 {
		t.Errorf("profiles_scraped: got %d, want 1", p.ProfilesScraped)
	}
	if p.ProfilesTotal != 2 {
		t.Errorf("profiles_total: got %d, want 2", p.ProfilesTotal)
	}
	if p.CompletionRate != 50 {
		t.Errorf("completion_rate: got %v, want 50", p.CompletionRate)
	}
}

func TestSessionErrorRingBounded(t *testing.T) {
	// WHAT: The error ring keeps the most recent entries only.
	// WHY: A long hostile run must not grow session memory without bound.
	s := harvest.NewSession("s1", "q", harvest.Options{Query: "q"})
	for i := 0; i < 75; i++ {
		s.RecordError("profile", fmt.Sprintf("boom %d", i))
	}

	p := s.Progress()
	if p.ErrorCount != 75 {
		t.Errorf("error_count: got %d, want 75", p.ErrorCount)
	}
	if len(p.RecentErrors) != 50 {
		t.Fatalf("recent errors: got %d, want 50", len(p.RecentErrors))
	}
	if p.RecentErrors[0].Message != "boom 25" {
		t.Errorf("oldest kept: got %q, want %q", p.RecentErrors[0].Message, "boom 25")
	}
	if p.RecentErrors[49].Message != "boom 74" {
		t.Errorf("newest kept: got %q, want %q", p.RecentErrors[49].Message, "boom 74")
	}
}

func TestSessionCheckpointRoundTrip(t *testing.T) {
	// WHAT: Checkpoint projection carries page, counters and options, and
	// Restore pulls the scalars back.
	// WHY: Resume rebuilds a session from exactly this projection.
	opts := harvest.Options{Query: "q", TargetProfiles: 9}
	s := harvest.NewSession("s1", "q", opts)
	s.Begin()
	s.SetPage(4)
	s.Discover("u1")
	s.MarkScraped("u1")
	s.MarkFailed()
	s.RecordError("listing", "x")

	cp := s.Checkpoint()
	if cp.SessionID != "s1" || cp.SearchQuery != "q" {
		t.Fatalf("identity: got %q/%q", cp.SessionID, cp.SearchQuery)
	}
	if cp.CurrentPage != 4 {
		t.Errorf("current_page: got %d, want 4", cp.CurrentPage)
	}
	if cp.ProfilesScraped != 1 || cp.ProfilesFailed != 1 || cp.ErrorCount != 1 {
		t.Errorf("counters: got %d/%d/%d, want 1/1/1", cp.ProfilesScraped, cp.ProfilesFailed, cp.ErrorCount)
	}
	if cp.Status != string(harvest.StatusRunning) {
		t.Errorf("status: got %q, want running", cp.Status)
	}

	back, err := harvest.DecodeOptions(cp.OptionsJSON)
	if err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if back.TargetProfiles != 9 {
		t.Errorf("options target: got %d, want 9", back.TargetProfiles)
	}

	fresh := harvest.NewSession("s1", "q", back)
	fresh.Restore(cp)
	fresh.SeedDiscovered([]string{"u1"})
	fresh.SeedScraped([]string{"u1"})
	if fresh.Page() != 4 {
		t.Errorf("restored page: got %d, want 4", fresh.Page())
	}
	if fresh.Discover("u1") {
		t.Error("seeded URL should not be new")
	}
	if fresh.ProfilesScraped() != 1 {
		t.Errorf("restored scraped: got %d, want 1", fresh.ProfilesScraped())
	}
}

func TestSessionObserveTotals(t *testing.T) {
	// WHAT: Totals derive a page estimate and report changes once.
	// WHY: The count event should fire when the site total moves, not on
	// every page.
	s := harvest.NewSession("s1", "q", harvest.Options{Query: "q"})

	if !s.ObserveTotals(95, 10) {
		t.Fatal("first total should report a change")
	}
	if s.ObserveTotals(95, 10) {
		t.Error("same total should not report a change")
	}
	if s.ObserveTotals(0, 10) {
		t.Error("zero total is ignored")
	}

	p := s.Progress()
	if p.TotalResults != 95 {
		t.Errorf("total_results: got %d, want 95", p.TotalResults)
	}
	if p.TotalPages != 10 {
		t.Errorf("total_pages: got %d, want 10", p.TotalPages)
	}
}
