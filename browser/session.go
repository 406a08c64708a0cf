// CLAUDE:SUMMARY Cookie-file auth session: load, apply to contexts, verify via probe URL, detect login walls.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// CookieFile is a JSON cookie jar. An external login job (or a
	// manual export) refreshes it; Reauthenticate re-reads it.
	CookieFile string

	// ProbeURL is a page only an authenticated session can reach.
	// Reauthenticate navigates here to verify the reloaded cookies.
	ProbeURL string

	// LoginURLPart identifies login-wall URLs by substring,
	// e.g. "/connexion" or "/login".
	LoginURLPart string

	Logger *slog.Logger
}

// Session holds the authenticated cookie set for the target site and
// knows how to push it into execution contexts.
type Session struct {
	cfg SessionConfig
	mgr *Manager

	mu      sync.Mutex
	cookies []*proto.NetworkCookieParam
}

// NewSession builds a Session bound to mgr. Call Load before first use.
func NewSession(cfg SessionConfig, mgr *Manager) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoginURLPart == "" {
		cfg.LoginURLPart = "/login"
	}
	return &Session{cfg: cfg, mgr: mgr}
}

// cookieJSON is the on-disk cookie format (browser export compatible).
type cookieJSON struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Load reads the cookie jar from disk.
func (s *Session) Load() error {
	data, err := os.ReadFile(s.cfg.CookieFile)
	if err != nil {
		return fmt.Errorf("browser: read cookie file: %w", err)
	}
	var raw []cookieJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("browser: parse cookie file: %w", err)
	}

	cookies := make([]*proto.NetworkCookieParam, 0, len(raw))
	for _, c := range raw {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		cookies = append(cookies, p)
	}

	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
	s.cfg.Logger.Info("browser: session cookies loaded", "count", len(cookies), "file", s.cfg.CookieFile)
	return nil
}

// Cookies returns the current cookie set.
func (s *Session) Cookies() []*proto.NetworkCookieParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies
}

// ApplyTo pushes the session cookies into an execution context. Called
// when the pool prepares a context and again after re-authentication.
func (s *Session) ApplyTo(c *Context) error {
	return c.SetCookies(s.Cookies())
}

// IsLoginURL reports whether u is the target's login wall.
func (s *Session) IsLoginURL(u string) bool {
	return s.cfg.LoginURLPart != "" && strings.Contains(u, s.cfg.LoginURLPart)
}

// Reauthenticate re-reads the cookie jar and verifies it against the
// probe URL through a throwaway context. Landing back on the login wall
// means the jar itself is stale; that is not recoverable from here.
func (s *Session) Reauthenticate(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}
	if s.cfg.ProbeURL == "" || s.mgr == nil {
		return nil
	}

	probe, err := s.mgr.NewContext(ctx, "auth-probe")
	if err != nil {
		return fmt.Errorf("browser: reauth probe context: %w", err)
	}
	defer probe.Close()

	if err := s.ApplyTo(probe); err != nil {
		return err
	}
	nav, err := probe.Navigate(ctx, s.cfg.ProbeURL)
	if err != nil {
		return fmt.Errorf("browser: reauth probe: %w", err)
	}
	if s.IsLoginURL(nav.FinalURL) {
		return fmt.Errorf("browser: cookie jar is stale, probe landed on %s", nav.FinalURL)
	}
	s.cfg.Logger.Info("browser: reauthenticated", "probe", s.cfg.ProbeURL)
	return nil
}
