package candidate

import "testing"

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"HTTPS://Example.COM/profile/123/?ref=search#top", "https://example.com/profile/123"},
		{"https://example.com/profile/123", "https://example.com/profile/123"},
		{"https://example.com/", "https://example.com"},
		{"/profile/123", "/profile/123"}, // relative, returned unchanged
		{"not a url at all", "not a url at all"},
	}
	for _, c := range cases {
		if got := CanonicalURL(c.in); got != c.want {
			t.Fatalf("CanonicalURL(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalURL_Idempotent(t *testing.T) {
	// WHAT: canonicalising twice yields the same key.
	// WHY: the dedup set compares keys produced at different times.
	raw := "https://Example.com/p/9?page=3"
	once := CanonicalURL(raw)
	twice := CanonicalURL(once)
	if once != twice {
		t.Fatalf("not idempotent: %q vs %q", once, twice)
	}
}

func TestResolve(t *testing.T) {
	got := Resolve("https://example.com/search?page=2", "/profile/42")
	if got != "https://example.com/profile/42" {
		t.Fatalf("Resolve: got %q", got)
	}

	got = Resolve("https://example.com/search", "https://other.com/p/1")
	if got != "https://other.com/p/1" {
		t.Fatalf("Resolve absolute: got %q", got)
	}
}

func TestFetchOutcomeHostile(t *testing.T) {
	cases := []struct {
		name string
		o    FetchOutcome
		want bool
	}{
		{"throttled", FetchOutcome{Status: 429}, true},
		{"forbidden", FetchOutcome{Status: 403}, true},
		{"blocked", FetchOutcome{Blocked: true}, true},
		{"login redirect", FetchOutcome{LoginRedirect: true}, true},
		{"server error", FetchOutcome{Status: 500}, false},
		{"ok", FetchOutcome{Success: true, Status: 200}, false},
	}
	for _, c := range cases {
		if got := c.o.Hostile(); got != c.want {
			t.Fatalf("%s: Hostile() = %v, want %v", c.name, got, c.want)
		}
	}
}
