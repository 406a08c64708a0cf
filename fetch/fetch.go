// CLAUDE:SUMMARY Production fetcher: drives stealth browser contexts through listing and detail pages into extraction.

// Package fetch renders listing and detail pages through the managed
// browser and turns them into the structures the orchestrator consumes.
// It is the one place where navigation, hostile-page detection and
// extraction meet; everything upstream sees only ListingResult and
// FetchOutcome values.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/hazyhaar/moisson/browser"
	"github.com/hazyhaar/moisson/candidate"
	"github.com/hazyhaar/moisson/extract"
	"github.com/hazyhaar/moisson/harvest"
	"github.com/hazyhaar/moisson/pool"
)

// Config describes one target site: where searches live and which
// selectors carve up its pages. The yaml tags bind this to the cmd
// config file's target blocks.
type Config struct {
	// SearchURL is the listing endpoint. The query and page number are
	// appended as query parameters; existing parameters are preserved.
	SearchURL string `yaml:"search_url" json:"search_url"`

	// QueryParam names the search-term parameter. Default "q".
	QueryParam string `yaml:"query_param,omitempty" json:"query_param,omitempty"`

	// PageParam names the page-number parameter. Default "page".
	PageParam string `yaml:"page_param,omitempty" json:"page_param,omitempty"`

	Listing extract.ListingConfig `yaml:"listing" json:"listing"`
	Detail  extract.DetailConfig  `yaml:"detail" json:"detail"`
}

func (c *Config) defaults() {
	if c.QueryParam == "" {
		c.QueryParam = "q"
	}
	if c.PageParam == "" {
		c.PageParam = "page"
	}
}

// Validate rejects configs that cannot produce a search URL.
func (c *Config) Validate() error {
	if c.SearchURL == "" {
		return errors.New("fetch: search_url is required")
	}
	u, err := url.Parse(c.SearchURL)
	if err != nil {
		return fmt.Errorf("fetch: search_url: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("fetch: search_url %q is not absolute", c.SearchURL)
	}
	return nil
}

// Fetcher implements harvest.Fetcher over a browser.Manager. The
// session is optional; without one no cookies are applied and login
// detection falls back to content markers only.
type Fetcher struct {
	cfg    Config
	mgr    *browser.Manager
	sess   *browser.Session
	logger *slog.Logger
}

// New builds a Fetcher. A nil logger falls back to slog.Default().
func New(cfg Config, mgr *browser.Manager, sess *browser.Session, logger *slog.Logger) (*Fetcher, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mgr == nil {
		return nil, errors.New("fetch: browser manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, mgr: mgr, sess: sess, logger: logger}, nil
}

// searchPageURL builds the listing URL for one page of a query.
func (f *Fetcher) searchPageURL(query string, page int) (string, error) {
	u, err := url.Parse(f.cfg.SearchURL)
	if err != nil {
		return "", fmt.Errorf("fetch: search url: %w", err)
	}
	q := u.Query()
	q.Set(f.cfg.QueryParam, query)
	q.Set(f.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchListing renders one results page in a throwaway context and
// extracts its rows. Landing on a login wall or a block interstitial
// comes back as a hostile outcome, not an error; errors are reserved
// for navigation and extraction failures the orchestrator cannot pace
// around.
func (f *Fetcher) FetchListing(ctx context.Context, query string, page int) (*harvest.ListingResult, error) {
	pageURL, err := f.searchPageURL(query, page)
	if err != nil {
		return nil, err
	}

	c, err := f.mgr.NewContext(ctx, fmt.Sprintf("listing-p%d", page))
	if err != nil {
		return nil, fmt.Errorf("fetch: listing context: %w", err)
	}
	defer c.Close()
	if err := f.applyCookies(c); err != nil {
		return nil, err
	}

	out := &candidate.FetchOutcome{URL: pageURL}
	res := &harvest.ListingResult{URL: pageURL, Outcome: out}

	start := time.Now()
	nav, err := c.Navigate(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: listing page %d: %w", page, err)
	}
	out.Status = nav.Status
	if f.isLoginURL(nav.FinalURL) {
		out.LoginRedirect = true
		f.logger.Warn("fetch: listing redirected to login", "page", page, "landed", nav.FinalURL)
		return res, nil
	}

	html, err := c.HTML(ctx)
	out.RequestMS = time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("fetch: listing page %d dom: %w", page, err)
	}
	if extract.DetectBlock(html) {
		out.Blocked = true
		f.logger.Warn("fetch: listing blocked", "page", page, "url", pageURL)
		return res, nil
	}
	if extract.DetectLogin(html) {
		out.LoginRedirect = true
		return res, nil
	}

	exStart := time.Now()
	listing, err := extract.ExtractListing(html, nav.FinalURL, page, f.cfg.Listing)
	out.ExtractMS = time.Since(exStart).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("fetch: listing page %d: %w", page, err)
	}

	out.Success = true
	res.Candidates = listing.Candidates
	res.NextURL = listing.NextURL
	res.Total = listing.Total
	res.Skipped = listing.Skipped
	return res, nil
}

// NewSlot opens a stealth context with the session cookies applied.
// The pool calls this once per worker per chunk.
func (f *Fetcher) NewSlot(ctx context.Context, id string) (pool.Slot, error) {
	c, err := f.mgr.NewContext(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.applyCookies(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// FetchDetail renders one profile page on a pool slot. Cookies are
// reapplied before every navigation: a mid-chunk re-authentication
// refreshes the jar, and live contexts have to pick the new cookies up
// before their next request.
func (f *Fetcher) FetchDetail(ctx context.Context, slot pool.Slot, profileURL string) *candidate.FetchOutcome {
	out := &candidate.FetchOutcome{URL: profileURL}

	c, ok := slot.(*browser.Context)
	if !ok {
		out.Err = "fetch: slot is not a browser context"
		return out
	}
	if err := f.applyCookies(c); err != nil {
		out.Err = err.Error()
		return out
	}

	start := time.Now()
	nav, err := c.Navigate(ctx, profileURL)
	if err != nil {
		out.Err = err.Error()
		return out
	}
	out.Status = nav.Status
	if f.isLoginURL(nav.FinalURL) {
		out.LoginRedirect = true
		return out
	}

	html, err := c.HTML(ctx)
	out.RequestMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Err = err.Error()
		return out
	}
	if extract.DetectBlock(html) {
		out.Blocked = true
		return out
	}
	if extract.DetectLogin(html) {
		out.LoginRedirect = true
		return out
	}

	exStart := time.Now()
	profile, err := extract.ExtractDetail(html, profileURL, f.cfg.Detail)
	out.ExtractMS = time.Since(exStart).Milliseconds()
	if err != nil {
		// ErrThinContent lands here with a clean status; the scrape
		// loop gives those one more try before settling the failure.
		out.Err = err.Error()
		return out
	}

	out.Profile = profile
	out.Success = true
	return out
}

func (f *Fetcher) applyCookies(c *browser.Context) error {
	if f.sess == nil {
		return nil
	}
	if err := f.sess.ApplyTo(c); err != nil {
		return fmt.Errorf("fetch: apply cookies: %w", err)
	}
	return nil
}

func (f *Fetcher) isLoginURL(u string) bool {
	return f.sess != nil && f.sess.IsLoginURL(u)
}
