// Package sanitize strips markup from untrusted provider text.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"mealscan-gateway/internal/nutrition"
)

// maxPasses bounds the fixed-point loop; nested encodings such as
// "&amp;lt;script&amp;gt;" need one pass per level.
const maxPasses = 8

var policy = bluemonday.StrictPolicy()

// Text returns s as plain text: tags and script/style bodies removed,
// entities decoded, control characters dropped and whitespace collapsed.
// Text(Text(s)) == Text(s).
func Text(s string) string {
	out := s
	for i := 0; i < maxPasses; i++ {
		next := pass(out)
		if next == out {
			return out
		}
		out = next
	}
	// Still changing after maxPasses: strip what is live now and drop the
	// characters that could open a tag or an entity, so the result is a
	// fixed point of pass.
	return collapse(strings.Map(dropMarkupRunes, html.UnescapeString(policy.Sanitize(out))))
}

func pass(s string) string {
	return collapse(html.UnescapeString(policy.Sanitize(stripControl(s))))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(stripControl(s)), " ")
}

func dropMarkupRunes(r rune) rune {
	switch r {
	case '<', '>', '&':
		return -1
	}
	return r
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Result sanitizes every externally sourced text field of r in place.
func Result(r *nutrition.Result) {
	if r == nil {
		return
	}
	for i := range r.Items {
		r.Items[i].Name = Text(r.Items[i].Name)
		r.Items[i].Unit = Text(r.Items[i].Unit)
	}
	r.Notes = Text(r.Notes)
}
