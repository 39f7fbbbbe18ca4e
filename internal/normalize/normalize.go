// Package normalize splits a raw location string into country, admin area
// and the residual facility text sent to geocoders.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/facility-locator/internal/gazetteer"
	"github.com/sells-group/facility-locator/internal/model"
)

// Characters trimmed around a removed span. An opening bracket is dropped
// only before the cut and a closing one only after it.
const (
	separators    = " \t\r\n,;:-/|"
	trimBeforeCut = separators + "("
	trimAfterCut  = separators + ".)"
)

// Gazetteer is the subset of gazetteer.Gazetteer the normalizer uses.
type Gazetteer interface {
	FindCountry(text string) (gazetteer.CountryMatch, bool)
	FindSubdivisions(text, code string) []gazetteer.SubdivisionMatch
	LookupCountry(s string) (gazetteer.Country, bool)
}

// Normalizer parses location strings. It never fails.
type Normalizer struct {
	gaz Gazetteer
}

// New returns a Normalizer backed by gaz.
func New(gaz Gazetteer) *Normalizer {
	return &Normalizer{gaz: gaz}
}

// Normalize parses raw. The residual is the original text with the country
// and admin-area spans removed; it is never empty for non-empty input.
func (n *Normalizer) Normalize(raw string) model.ParsedLocation {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return model.ParsedLocation{}
	}

	country, ok := n.gaz.FindCountry(raw)
	if !ok {
		return model.ParsedLocation{Residual: raw}
	}

	out := model.ParsedLocation{Country: country.Name, CountryCode: country.Code}
	spans := []gazetteer.Span{country.Span}

	if sub, ok := n.findAdminArea(raw, country); ok {
		out.AdminArea = sub.Name
		spans = append(spans, sub.Span)
	}

	out.Residual = removeSpans(raw, spans)
	if out.Residual == "" {
		out.Residual = trimmed
	}
	return out
}

// NormalizeQuery parses q.Name and, when the text names no country, fills
// the country from q.CountryHint.
func (n *Normalizer) NormalizeQuery(q model.LocationQuery) model.ParsedLocation {
	p := n.Normalize(q.Name)
	if p.CountryCode == "" && q.CountryHint != "" {
		if c, ok := n.gaz.LookupCountry(q.CountryHint); ok {
			p.Country = c.Name
			p.CountryCode = c.Alpha2
		}
	}
	return p
}

// findAdminArea picks the first subdivision that is not the leading word of
// the text and is either a whole separator-delimited segment or directly
// precedes the country. This keeps "Harare Central Hospital" intact while
// still reading "Mpilo Hospital, Bulawayo, Zimbabwe".
func (n *Normalizer) findAdminArea(raw string, country gazetteer.CountryMatch) (gazetteer.SubdivisionMatch, bool) {
	masked := raw[:country.Span.Start] + strings.Repeat(" ", country.Span.End-country.Span.Start) + raw[country.Span.End:]
	lead := firstWordStart(raw)

	for _, sub := range n.gaz.FindSubdivisions(masked, country.Code) {
		if sub.Span.Start == lead {
			continue
		}
		if isSegment(masked, sub.Span) || precedes(raw, sub.Span, country.Span) {
			return sub, true
		}
	}
	return gazetteer.SubdivisionMatch{}, false
}

// removeSpans cuts spans out of text and tidies the separators left behind.
// Remaining pieces are rejoined with ", " when the cut region held a comma.
func removeSpans(text string, spans []gazetteer.Span) string {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var segs []string
	prev := 0
	for _, sp := range spans {
		if sp.Start < prev {
			continue
		}
		segs = append(segs, text[prev:sp.Start])
		prev = sp.End
	}
	segs = append(segs, text[prev:])

	var b strings.Builder
	comma := false
	for i, seg := range segs {
		if i > 0 {
			t := strings.TrimLeft(seg, trimAfterCut)
			comma = comma || strings.Contains(seg[:len(seg)-len(t)], ",")
			seg = t
		}
		cut := ""
		if i < len(segs)-1 {
			t := strings.TrimRight(seg, trimBeforeCut)
			cut = seg[len(t):]
			seg = t
		}
		if strings.TrimSpace(seg) != "" {
			if b.Len() > 0 {
				if comma {
					b.WriteString(", ")
				} else {
					b.WriteByte(' ')
				}
			}
			b.WriteString(seg)
			comma = false
		}
		comma = comma || strings.Contains(cut, ",")
	}
	return strings.Trim(b.String(), separators)
}

func firstWordStart(s string) int {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
}

// isSegment reports whether span fills a separator-delimited segment of s.
func isSegment(s string, span gazetteer.Span) bool {
	before := strings.TrimRight(s[:span.Start], " \t")
	after := strings.TrimLeft(s[span.End:], " \t")
	delimited := func(str string, atEnd bool) bool {
		if strings.TrimSpace(str) == "" {
			return true
		}
		var c byte
		if atEnd {
			c = str[len(str)-1]
		} else {
			c = str[0]
		}
		return strings.IndexByte(",;:/|()", c) >= 0
	}
	return delimited(before, true) && delimited(after, false)
}

// precedes reports whether sub comes right before country with only
// separators between them, as in "Bulawayo, Zimbabwe".
func precedes(s string, sub, country gazetteer.Span) bool {
	if sub.End > country.Start {
		return false
	}
	return strings.Trim(s[sub.End:country.Start], separators) == ""
}
