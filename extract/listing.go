// CLAUDE:SUMMARY Listing extractor: search-results rows → candidates, plus next-page link and result count.
package extract

import (
	"errors"
	"strings"

	"github.com/hazyhaar/moisson/candidate"
)

// ErrNoRows is returned when the row selector matches nothing. The
// orchestrator treats it as a page-level failure, not as exhaustion;
// exhaustion is an empty NextURL on a page that did match.
var ErrNoRows = errors.New("extract: no listing rows matched")

// ListingConfig names the parts of a search-results page. Only Row and
// Link are required; every other selector degrades to empty fields.
type ListingConfig struct {
	Row      string `yaml:"row" json:"row"`
	Link     string `yaml:"link" json:"link"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Headline string `yaml:"headline,omitempty" json:"headline,omitempty"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Snippet  string `yaml:"snippet,omitempty" json:"snippet,omitempty"`
	Next     string `yaml:"next,omitempty" json:"next,omitempty"`
	Total    string `yaml:"total,omitempty" json:"total,omitempty"`
}

func (c *ListingConfig) defaults() {
	if c.Row == "" {
		c.Row = "li.result-card"
	}
	if c.Link == "" {
		c.Link = "a[href]"
	}
}

// Listing is the structured content of one results page.
type Listing struct {
	Candidates []candidate.Candidate
	NextURL    string // absolute URL of the next page, "" when last
	Total      int    // site-reported result count, 0 when unknown
	Skipped    int    // rows dropped for lacking a usable profile link
}

// ExtractListing pulls candidate rows out of a rendered results page.
// Rows without a usable profile link are skipped, not fatal. Relative
// profile and next-page links are resolved against baseURL. page tags
// each candidate with the listing page it came from.
func ExtractListing(rawHTML []byte, baseURL string, page int, cfg ListingConfig) (*Listing, error) {
	cfg.defaults()

	doc, err := Parse(rawHTML)
	if err != nil {
		return nil, err
	}

	rows := selectIn(doc, cfg.Row)
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	out := &Listing{}
	for _, row := range rows {
		link := firstIn(row, cfg.Link)
		if link == nil {
			out.Skipped++
			continue
		}
		href := getAttr(link, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			out.Skipped++
			continue
		}

		c := candidate.Candidate{
			URL:  candidate.Resolve(baseURL, href),
			Page: page,
		}
		if cfg.Name != "" {
			c.Name = collectText(firstIn(row, cfg.Name))
		}
		if c.Name == "" {
			c.Name = collectText(link)
		}
		if cfg.Headline != "" {
			c.Headline = collectText(firstIn(row, cfg.Headline))
		}
		if cfg.Location != "" {
			c.Location = collectText(firstIn(row, cfg.Location))
		}
		if cfg.Snippet != "" {
			c.Snippet = collectText(firstIn(row, cfg.Snippet))
		}
		out.Candidates = append(out.Candidates, c)
	}

	if cfg.Next != "" {
		if next := firstIn(doc, cfg.Next); next != nil {
			if href := getAttr(next, "href"); href != "" {
				out.NextURL = candidate.Resolve(baseURL, href)
			}
		}
	}
	if cfg.Total != "" {
		out.Total = parseCount(collectText(firstIn(doc, cfg.Total)))
	}

	return out, nil
}

// parseCount extracts the first integer from text like "1 234 résultats"
// or "1,234 results". Returns 0 when no digits are present.
func parseCount(text string) int {
	n := 0
	seen := false
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
			seen = true
		case r == ',' || r == ' ' || r == ' ' || r == '.':
			// thousands separators
		default:
			if seen {
				return n
			}
		}
	}
	return n
}
