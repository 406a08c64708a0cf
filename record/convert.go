// CLAUDE:SUMMARY Profile HTML content pipeline: bluemonday sanitization then html-to-markdown conversion.
package record

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Converter turns raw profile HTML into storable markdown. Sanitization
// runs first so scripts and event handlers scraped off a hostile page
// never survive into the database or the markdown output.
type Converter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewConverter builds the standard pipeline: UGC sanitization policy,
// commonmark conversion with table support.
func NewConverter() *Converter {
	return &Converter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Sanitize strips unsafe markup from raw HTML.
func (c *Converter) Sanitize(raw string) string {
	return c.policy.Sanitize(raw)
}

// Markdown sanitizes html and converts it to markdown. If conversion
// fails or produces empty output, returns the fallback plain text.
func (c *Converter) Markdown(html, sourceURL, fallback string) string {
	if html == "" {
		return fallback
	}
	clean := c.policy.Sanitize(html)
	result, err := c.md.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return fallback
	}
	return strings.TrimSpace(result)
}
