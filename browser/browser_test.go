package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.MemoryLimit != 1<<30 {
		t.Fatalf("memory limit = %d, want 1GB", cfg.MemoryLimit)
	}
	if cfg.RecycleInterval != 4*time.Hour {
		t.Fatalf("recycle interval = %v, want 4h", cfg.RecycleInterval)
	}
	if cfg.NavigateTimeout != 30*time.Second {
		t.Fatalf("navigate timeout = %v, want 30s", cfg.NavigateTimeout)
	}
	if cfg.Logger == nil {
		t.Fatal("logger not defaulted")
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true}
	cases := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.resType); got != c.want {
			t.Fatalf("shouldBlock(%q) = %v, want %v", c.resType, got, c.want)
		}
	}
}

func TestContextCloseNilPage(t *testing.T) {
	var c Context
	if err := c.Close(); err != nil {
		t.Fatalf("Close on zero-value context: %v", err)
	}
}

func TestSessionLoadAndLoginURL(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "cookies.json")
	data := `[
	  {"name":"sid","value":"abc123","domain":".example.com","path":"/","httpOnly":true,"secure":true,"expires":1893456000},
	  {"name":"pref","value":"fr","domain":".example.com","path":"/"}
	]`
	if err := os.WriteFile(jar, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewSession(SessionConfig{CookieFile: jar, LoginURLPart: "/connexion"}, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cookies := s.Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	if cookies[0].Name != "sid" || cookies[0].Value != "abc123" {
		t.Fatalf("first cookie = %+v", cookies[0])
	}
	if !cookies[0].HTTPOnly || !cookies[0].Secure {
		t.Fatal("cookie flags lost in parsing")
	}

	if !s.IsLoginURL("https://example.com/connexion?next=%2Frecherche") {
		t.Fatal("login URL not detected")
	}
	if s.IsLoginURL("https://example.com/profil/alice") {
		t.Fatal("profile URL flagged as login")
	}
}

func TestSessionLoadMissingFile(t *testing.T) {
	s := NewSession(SessionConfig{CookieFile: "/nonexistent/cookies.json"}, nil)
	if err := s.Load(); err == nil {
		t.Fatal("expected error for missing cookie file")
	}
}
