package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/model"
)

func testRegistry() *MemoryRegistry {
	return NewMemory([]Facility{
		{ID: "zw-001", Name: "Chitungwiza Central Hospital", CountryCode: "ZW", Lat: -18.0127, Lon: 31.0756},
		{ID: "zw-002", Name: "Harare Central Hospital", CountryCode: "ZW", Lat: -17.8536, Lon: 31.0337},
		{ID: "zw-003", Name: "Mpilo Central Hospital", CountryCode: "ZW", Lat: -20.1394, Lon: 28.5726},
		{ID: "ke-001", Name: "Kenyatta National Hospital", CountryCode: "KE", Lat: -1.3006, Lon: 36.8066},
		{ID: "", Name: "  ", Lat: 1, Lon: 1},
	})
}

func TestMemoryRegistry_SkipsBlankNames(t *testing.T) {
	assert.Equal(t, 4, testRegistry().Len())
}

func TestCascade_Exact(t *testing.T) {
	m, err := Cascade(context.Background(), testRegistry(), "harare central HOSPITAL", "ZW")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.MatchExact, m.Type)
	assert.Equal(t, 1.0, m.Confidence)
	assert.Equal(t, "zw-002", m.Facility.ID)
}

func TestCascade_Contains(t *testing.T) {
	m, err := Cascade(context.Background(), testRegistry(), "Mpilo Central Hospital Bulawayo", "ZW")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.MatchContains, m.Type)
	assert.Equal(t, ContainsConfidence, m.Confidence)
	assert.Equal(t, "zw-003", m.Facility.ID)
}

func TestCascade_FuzzyChitungwiza(t *testing.T) {
	m, err := Cascade(context.Background(), testRegistry(), "chitungwiza hospital", "")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.MatchFuzzy, m.Type)
	assert.Equal(t, "zw-001", m.Facility.ID)
	assert.GreaterOrEqual(t, m.Score*100, 65.0)
	assert.Equal(t, m.Score, m.Confidence)
}

func TestCascade_CountryFilter(t *testing.T) {
	m, err := Cascade(context.Background(), testRegistry(), "Kenyatta National Hospital", "ZW")
	require.NoError(t, err)
	if m != nil {
		assert.NotEqual(t, "ke-001", m.Facility.ID)
	}

	m, err = Cascade(context.Background(), testRegistry(), "Kenyatta National Hospital", "KE")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "ke-001", m.Facility.ID)
}

func TestCascade_NoMatch(t *testing.T) {
	m, err := Cascade(context.Background(), testRegistry(), "Lusaka University Teaching Hospital", "ZM")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = Cascade(context.Background(), testRegistry(), "  ", "")
	require.NoError(t, err)
	assert.Nil(t, m)
}

type failingRegistry struct{ exactErr, fuzzyErr error }

func (f failingRegistry) LookupExact(context.Context, string, string) (*Facility, error) {
	return nil, f.exactErr
}

func (f failingRegistry) LookupFuzzy(context.Context, string, string) ([]Match, error) {
	return nil, f.fuzzyErr
}

func TestCascade_Errors(t *testing.T) {
	_, err := Cascade(context.Background(), failingRegistry{exactErr: errors.New("down")}, "x clinic", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: exact lookup")

	_, err = Cascade(context.Background(), failingRegistry{fuzzyErr: errors.New("down")}, "x clinic", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: fuzzy lookup")
}

func TestMemoryRegistry_LookupFuzzyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testRegistry().LookupFuzzy(ctx, "harare", "ZW")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Cascade(ctx, testRegistry(), "Harare Centrl Hospitl", "ZW")
	assert.ErrorIs(t, err, context.Canceled)

	got, err := testRegistry().LookupFuzzy(context.Background(), "harare", "ZW")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, m := range got {
		assert.Zero(t, m.Score)
	}
}

func TestTokenStage(t *testing.T) {
	cands := []Match{
		{Facility: Facility{ID: "a", Name: "Saint Annes Mission Hospital Hwange"}},
		{Facility: Facility{ID: "b", Name: "Victoria Falls Clinic"}},
	}
	m := tokenStage("st annes mission hospital hwange", cands)
	require.NotNil(t, m)
	assert.Equal(t, "a", m.Facility.ID)
	assert.Equal(t, model.MatchToken, m.Type)
	assert.InDelta(t, 0.8, m.Score, 1e-9)
	assert.InDelta(t, 0.7, m.Confidence, 1e-9)

	assert.Nil(t, tokenStage("harare clinic", cands))
}

func TestTokenConfidence(t *testing.T) {
	assert.InDelta(t, 0.6, tokenConfidence(0.7), 1e-9)
	assert.InDelta(t, 0.9, tokenConfidence(1.0), 1e-9)
	assert.InDelta(t, 0.75, tokenConfidence(0.85), 1e-9)
	assert.InDelta(t, 0.6, tokenConfidence(0.2), 1e-9)
}

func TestContainsPhrase_WordBoundaries(t *testing.T) {
	assert.True(t, containsPhrase("mpilo central hospital", "central hospital"))
	assert.False(t, containsPhrase("mpilo central hospitals", "central hospital"))
}
