// CLAUDE:SUMMARY Shared value types for harvested candidates: listing rows, profile payloads, URL canonicalisation.

// Package candidate defines the value types that flow between the harvest
// orchestrator, the extractors, the worker pool and the record stores.
// It has no dependencies on any of them.
package candidate

import (
	"net/url"
	"strings"
)

// Candidate is one row scraped from a search results page. URL is the
// canonical profile URL and serves as the dedup key across the session.
type Candidate struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Headline string `json:"headline,omitempty"`
	Location string `json:"location,omitempty"`
	Snippet  string `json:"snippet,omitempty"`
	Page     int    `json:"page,omitempty"` // listing page the row appeared on
}

// Profile is the payload of one detail-page fetch. Fields holds the
// selector-extracted sections keyed by field name, with raw HTML values;
// sanitisation and markdown conversion happen in the record store.
type Profile struct {
	URL       string            `json:"url"`
	Name      string            `json:"name,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	HTML      []byte            `json:"-"`
	FetchedAt int64             `json:"fetched_at"` // epoch milliseconds
}

// CanonicalURL normalises raw for use as a dedup key: lowercases scheme
// and host, strips query, fragment and trailing slash. Returns raw
// unchanged when it does not parse as an absolute URL.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// Resolve makes href absolute against base. Relative listing links come
// back host-qualified so they can be deduped and fetched directly.
func Resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
