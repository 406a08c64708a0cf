// CLAUDE:SUMMARY Execution contexts: stealth tabs with resource blocking, navigation with status capture, cookie application.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Context is one reusable execution context: a stealth tab the worker
// pool navigates through. Contexts survive across the items of a chunk
// and are torn down at chunk boundaries.
type Context struct {
	Page *rod.Page
	ID   string

	mgr *Manager
}

// NewContext opens a stealth tab with the manager's resource blocking
// applied. The tab starts blank; callers navigate per item.
func (m *Manager) NewContext(ctx context.Context, id string) (*Context, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create context: %w", err)
	}
	page = page.Context(ctx)

	if len(m.cfg.BlockResources) > 0 {
		if err := blockResources(page, m.cfg.BlockResources); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "context", id, "error", err)
		}
	}

	return &Context{Page: page, ID: id, mgr: m}, nil
}

// NavResult reports where a navigation actually landed.
type NavResult struct {
	FinalURL string
	Status   int // document HTTP status, 0 when not observed
}

// Navigate loads url and waits for the load event, bounded by the
// manager's NavigateTimeout. The final URL is read back from the page so
// server-side redirects (login walls in particular) are visible to the
// caller. Status is best-effort from the first document response.
func (c *Context) Navigate(ctx context.Context, url string) (*NavResult, error) {
	if c.Page == nil {
		return nil, fmt.Errorf("browser: context has no page")
	}

	navCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	page := c.Page.Context(navCtx)

	var resp proto.NetworkResponseReceived
	waitResp := page.WaitEvent(&resp)

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}

	status := 0
	done := make(chan struct{})
	go func() {
		waitResp()
		close(done)
	}()

	if err := page.WaitLoad(); err != nil && c.mgr != nil {
		c.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	select {
	case <-done:
		if resp.Response != nil {
			status = resp.Response.Status
		}
	case <-time.After(200 * time.Millisecond):
	}

	info, err := page.Info()
	final := url
	if err == nil && info.URL != "" {
		final = info.URL
	}
	return &NavResult{FinalURL: final, Status: status}, nil
}

// HTML serialises the rendered DOM.
func (c *Context) HTML(ctx context.Context) ([]byte, error) {
	res, err := c.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// SetCookies applies session cookies to this context. Used when a
// context is prepared for a chunk and again after re-authentication.
func (c *Context) SetCookies(cookies []*proto.NetworkCookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := c.Page.SetCookies(cookies); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// Close closes the tab. Safe on a zero-value Context.
func (c *Context) Close() error {
	if c.Page != nil {
		return c.Page.Close()
	}
	return nil
}

func (c *Context) timeout() time.Duration {
	if c.mgr != nil {
		return c.mgr.cfg.NavigateTimeout
	}
	return 30 * time.Second
}

// blockResources sets up request interception that fails requests for
// the configured resource types before they leave the browser.
func blockResources(page *rod.Page, types []string) error {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return nil
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	switch strings.ToLower(resType) {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	}
	return blockSet[strings.ToLower(resType)]
}
