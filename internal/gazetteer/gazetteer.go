// Package gazetteer recognizes country and first-level subdivision names in
// free text and looks up country bounding boxes.
package gazetteer

import (
	"context"
	_ "embed"
	"strings"
	"sync"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/facility-locator/internal/geo"
	"github.com/sells-group/facility-locator/internal/similarity"
)

//go:embed countries.yaml
var countriesYAML []byte

// ErrNoBounds is returned when no bounds source knows the country.
var ErrNoBounds = eris.New("gazetteer: no bounding box for country")

// Country is one entry of the country table.
type Country struct {
	Name         string   `yaml:"name"`
	Alpha2       string   `yaml:"alpha2"`
	Alpha3       string   `yaml:"alpha3"`
	Aliases      []string `yaml:"aliases"`
	Subdivisions []string `yaml:"subdivisions"`
}

// Span is a half-open byte range of the scanned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// CountryMatch is a country found in text.
type CountryMatch struct {
	Name string
	Code string
	Span Span
}

// SubdivisionMatch is an admin-1 area found in text.
type SubdivisionMatch struct {
	Name string
	Span Span
}

// BoundsSource returns the bounding box of a country by ISO alpha-2 code.
type BoundsSource interface {
	Bounds(ctx context.Context, code string) (geo.BBox, error)
}

// Gazetteer is safe for concurrent use once constructed. LoadAdmin1 may be
// called at any time.
type Gazetteer struct {
	countries map[string]*Country // alpha2 -> country
	byName    map[string]string   // normalized name/alias -> alpha2
	byCode    map[string]string   // upper-case alpha2/alpha3 -> alpha2
	maxWords  int

	mu        sync.RWMutex
	subs      map[string]map[string]string // alpha2 -> normalized name -> display name
	subsWords int

	bounds   BoundsSource
	boundsMu sync.Mutex
	boxes    map[string]geo.BBox
}

// Option configures a Gazetteer.
type Option func(*Gazetteer)

// WithBoundsSource sets where bounding boxes are fetched from.
func WithBoundsSource(src BoundsSource) Option {
	return func(g *Gazetteer) {
		g.bounds = src
	}
}

// New builds a Gazetteer from the embedded country table.
func New(opts ...Option) (*Gazetteer, error) {
	var table struct {
		Countries []Country `yaml:"countries"`
	}
	if err := yaml.Unmarshal(countriesYAML, &table); err != nil {
		return nil, eris.Wrap(err, "gazetteer: parse country table")
	}

	g := &Gazetteer{
		countries: make(map[string]*Country, len(table.Countries)),
		byName:    make(map[string]string),
		byCode:    make(map[string]string),
		subs:      make(map[string]map[string]string),
		boxes:     make(map[string]geo.BBox),
	}
	for i := range table.Countries {
		c := &table.Countries[i]
		code := strings.ToUpper(c.Alpha2)
		g.countries[code] = c
		g.byCode[code] = code
		if c.Alpha3 != "" {
			g.byCode[strings.ToUpper(c.Alpha3)] = code
		}
		for _, n := range append([]string{c.Name}, c.Aliases...) {
			g.addName(n, code)
		}
		for _, s := range c.Subdivisions {
			g.addSubdivision(code, s)
		}
	}

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gazetteer) addName(name, code string) {
	key := similarity.Normalize(name)
	if key == "" {
		return
	}
	if _, taken := g.byName[key]; !taken {
		g.byName[key] = code
	}
	g.maxWords = max(g.maxWords, len(strings.Fields(key)))
}

func (g *Gazetteer) addSubdivision(code, name string) {
	key := similarity.Normalize(name)
	if key == "" {
		return
	}
	m := g.subs[code]
	if m == nil {
		m = make(map[string]string)
		g.subs[code] = m
	}
	if _, taken := m[key]; !taken {
		m[key] = name
	}
	g.subsWords = max(g.subsWords, len(strings.Fields(key)))
}

// Country returns the table entry for an alpha-2 or alpha-3 code.
func (g *Gazetteer) Country(code string) (Country, bool) {
	a2, ok := g.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Country{}, false
	}
	return *g.countries[a2], true
}

// LookupCountry resolves a country name, alias or code to its table entry.
func (g *Gazetteer) LookupCountry(s string) (Country, bool) {
	if c, ok := g.Country(s); ok {
		return c, true
	}
	if code, ok := g.byName[similarity.Normalize(s)]; ok {
		return *g.countries[code], true
	}
	return Country{}, false
}

// FindCountry scans word windows of text, longest first and then left to
// right, for a country name or alias. Upper-case ISO codes are recognized
// only as the final word, so "ST MARY'S" does not read as São Tomé.
func (g *Gazetteer) FindCountry(text string) (CountryMatch, bool) {
	words := splitWords(text)
	if len(words) == 0 {
		return CountryMatch{}, false
	}

	for size := min(g.maxWords, len(words)); size >= 1; size-- {
		for i := 0; i+size <= len(words); i++ {
			if code, ok := g.byName[phrase(words[i:i+size])]; ok {
				return g.countryMatch(code, words[i].start, words[i+size-1].end), true
			}
		}
	}

	last := words[len(words)-1]
	raw := text[last.start:last.end]
	if isUpperCode(raw) {
		if code, ok := g.byCode[raw]; ok {
			return g.countryMatch(code, last.start, last.end), true
		}
	}
	return CountryMatch{}, false
}

func (g *Gazetteer) countryMatch(code string, start, end int) CountryMatch {
	return CountryMatch{Name: g.countries[code].Name, Code: code, Span: Span{Start: start, End: end}}
}

// FindSubdivision returns the first subdivision of country code named in text.
func (g *Gazetteer) FindSubdivision(text, code string) (SubdivisionMatch, bool) {
	all := g.FindSubdivisions(text, code)
	if len(all) == 0 {
		return SubdivisionMatch{}, false
	}
	return all[0], true
}

// FindSubdivisions returns every non-overlapping subdivision of country code
// named in text, longest windows first.
func (g *Gazetteer) FindSubdivisions(text, code string) []SubdivisionMatch {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := g.subs[strings.ToUpper(code)]
	words := splitWords(text)
	if len(names) == 0 || len(words) == 0 {
		return nil
	}

	used := make([]bool, len(words))
	var out []SubdivisionMatch
	for size := min(g.subsWords, len(words)); size >= 1; size-- {
		for i := 0; i+size <= len(words); i++ {
			if anyUsed(used[i : i+size]) {
				continue
			}
			name, ok := names[phrase(words[i:i+size])]
			if !ok {
				continue
			}
			for j := i; j < i+size; j++ {
				used[j] = true
			}
			out = append(out, SubdivisionMatch{
				Name: name,
				Span: Span{Start: words[i].start, End: words[i+size-1].end},
			})
		}
	}
	return out
}

// BoundingBox returns the country's bounding box, fetching it from the
// configured source on first use. Successful lookups are memoized.
func (g *Gazetteer) BoundingBox(ctx context.Context, code string) (geo.BBox, error) {
	c, ok := g.Country(code)
	if !ok {
		return geo.BBox{}, eris.Wrapf(ErrNoBounds, "unknown country %q", code)
	}
	code = c.Alpha2

	g.boundsMu.Lock()
	box, hit := g.boxes[code]
	g.boundsMu.Unlock()
	if hit {
		return box, nil
	}
	if g.bounds == nil {
		return geo.BBox{}, eris.Wrap(ErrNoBounds, "no bounds source configured")
	}

	box, err := g.bounds.Bounds(ctx, code)
	if err != nil {
		return geo.BBox{}, err
	}
	if !box.Valid() {
		return geo.BBox{}, eris.Wrapf(ErrNoBounds, "invalid box for %s", code)
	}

	g.boundsMu.Lock()
	g.boxes[code] = box
	g.boundsMu.Unlock()

	zap.L().Debug("gazetteer: bounds cached",
		zap.String("country", code),
		zap.Float64("min_lat", box.MinLat), zap.Float64("max_lat", box.MaxLat),
		zap.Float64("min_lon", box.MinLon), zap.Float64("max_lon", box.MaxLon),
	)
	return box, nil
}

type word struct {
	start, end int
	norm       string
}

// splitWords splits text into runs of letters and digits with byte offsets.
func splitWords(text string) []word {
	var words []word
	start := -1
	for i, r := range text {
		alnum := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case alnum && start < 0:
			start = i
		case !alnum && start >= 0:
			words = append(words, newWord(text, start, i))
			start = -1
		}
	}
	if start >= 0 {
		words = append(words, newWord(text, start, len(text)))
	}
	return words
}

func newWord(text string, start, end int) word {
	return word{start: start, end: end, norm: similarity.Normalize(text[start:end])}
}

func phrase(words []word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.norm
	}
	return strings.Join(parts, " ")
}

func anyUsed(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func isUpperCode(s string) bool {
	if len(s) != 2 && len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
