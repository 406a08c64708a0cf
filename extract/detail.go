// CLAUDE:SUMMARY Detail extractor: profile page → named sections, with a thin-content validation gate.
package extract

import (
	"errors"
	"time"

	"github.com/hazyhaar/moisson/candidate"
)

// ErrThinContent is returned when a detail page yields no configured
// fields and almost no visible text. The fetch loop retries once on
// this before recording the URL as failed: thin pages are usually a
// render that finished too early.
var ErrThinContent = errors.New("extract: detail page has no usable content")

// DetailConfig names the sections of a profile page. Fields maps a
// field name to its selector; matched subtrees are kept as raw HTML so
// the record store can sanitise and convert them once, at save time.
type DetailConfig struct {
	Name       string            `yaml:"name,omitempty" json:"name,omitempty"`
	Fields     map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	MinTextLen int               `yaml:"min_text_len,omitempty" json:"min_text_len,omitempty"`
}

func (c *DetailConfig) defaults() {
	if c.MinTextLen <= 0 {
		c.MinTextLen = 120
	}
}

// ExtractDetail pulls the configured sections out of a rendered profile
// page. A missing section is an empty field, not an error; a page with
// no sections and under MinTextLen of visible text is ErrThinContent.
func ExtractDetail(rawHTML []byte, pageURL string, cfg DetailConfig) (*candidate.Profile, error) {
	cfg.defaults()

	doc, err := Parse(rawHTML)
	if err != nil {
		return nil, err
	}

	p := &candidate.Profile{
		URL:       pageURL,
		HTML:      rawHTML,
		FetchedAt: time.Now().UnixMilli(),
	}

	if cfg.Name != "" {
		p.Name = collectText(firstIn(doc, cfg.Name))
	}
	if p.Name == "" {
		p.Name = findTitle(doc)
	}

	fields := make(map[string]string, len(cfg.Fields))
	got := 0
	for name, sel := range cfg.Fields {
		nodes := selectIn(doc, sel)
		if len(nodes) == 0 {
			continue
		}
		var parts []string
		for _, n := range nodes {
			parts = append(parts, renderNode(n))
		}
		fields[name] = joinNonEmpty(parts)
		got++
	}
	if got > 0 {
		p.Fields = fields
	}

	if got == 0 && len(collectText(doc)) < cfg.MinTextLen {
		return nil, ErrThinContent
	}
	return p, nil
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}
