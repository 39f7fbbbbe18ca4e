package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/gazetteer"
	"github.com/sells-group/facility-locator/internal/model"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	g, err := gazetteer.New()
	require.NoError(t, err)
	return New(g)
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		name string
		raw  string
		want model.ParsedLocation
	}{
		{
			name: "country and province",
			raw:  "Mpilo Hospital, Bulawayo, Zimbabwe",
			want: model.ParsedLocation{Country: "Zimbabwe", CountryCode: "ZW", AdminArea: "Bulawayo", Residual: "Mpilo Hospital"},
		},
		{
			name: "province next to country without commas",
			raw:  "Mpilo Hospital Bulawayo Zimbabwe",
			want: model.ParsedLocation{Country: "Zimbabwe", CountryCode: "ZW", AdminArea: "Bulawayo", Residual: "Mpilo Hospital"},
		},
		{
			name: "leading province stays in the facility name",
			raw:  "Harare Central Hospital, Zimbabwe",
			want: model.ParsedLocation{Country: "Zimbabwe", CountryCode: "ZW", Residual: "Harare Central Hospital"},
		},
		{
			name: "country in the middle",
			raw:  "Chitungwiza Zimbabwe Hospital",
			want: model.ParsedLocation{Country: "Zimbabwe", CountryCode: "ZW", Residual: "Chitungwiza Hospital"},
		},
		{
			name: "comma preserved across a cut",
			raw:  "Ward 4, Kenya, Nairobi West Hospital",
			want: model.ParsedLocation{Country: "Kenya", CountryCode: "KE", Residual: "Ward 4, Nairobi West Hospital"},
		},
		{
			name: "parenthesized country",
			raw:  "Mulago Hospital (Uganda)",
			want: model.ParsedLocation{Country: "Uganda", CountryCode: "UG", Residual: "Mulago Hospital"},
		},
		{
			name: "case and punctuation preserved",
			raw:  "St. Mary's Hospital - kenya.",
			want: model.ParsedLocation{Country: "Kenya", CountryCode: "KE", Residual: "St. Mary's Hospital"},
		},
		{
			name: "country only falls back to the original",
			raw:  "  Zimbabwe ",
			want: model.ParsedLocation{Country: "Zimbabwe", CountryCode: "ZW", Residual: "Zimbabwe"},
		},
		{
			name: "no country returns the original unchanged",
			raw:  " chitungwiza hospital, ward 3 ",
			want: model.ParsedLocation{Residual: " chitungwiza hospital, ward 3 "},
		},
		{
			name: "empty",
			raw:  "",
			want: model.ParsedLocation{},
		},
		{
			name: "whitespace only",
			raw:  " \t ",
			want: model.ParsedLocation{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw))
		})
	}
}

func TestNormalize_ResidualNeverEmpty(t *testing.T) {
	n := newTestNormalizer(t)
	for _, raw := range []string{"Kenya", "Bulawayo, Zimbabwe", "ZWE", "South Africa,", "x", "Côte d'Ivoire"} {
		assert.NotEmpty(t, n.Normalize(raw).Residual, raw)
	}
}

func TestNormalizeQuery_CountryHint(t *testing.T) {
	n := newTestNormalizer(t)

	p := n.NormalizeQuery(model.LocationQuery{Name: "chitungwiza hospital", CountryHint: "zimbabwe"})
	assert.Equal(t, "ZW", p.CountryCode)
	assert.Equal(t, "chitungwiza hospital", p.Residual)

	// Text wins over the hint.
	p = n.NormalizeQuery(model.LocationQuery{Name: "Mulago Hospital, Uganda", CountryHint: "KE"})
	assert.Equal(t, "UG", p.CountryCode)

	p = n.NormalizeQuery(model.LocationQuery{Name: "Mulago Hospital", CountryHint: "Atlantis"})
	assert.Empty(t, p.CountryCode)
}
