package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-locator/internal/engine"
	"github.com/sells-group/facility-locator/internal/model"
	"github.com/sells-group/facility-locator/internal/promote"
	"github.com/sells-group/facility-locator/internal/store"
	"github.com/sells-group/facility-locator/internal/validate"
)

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) Locate(ctx context.Context, q model.LocationQuery) (*engine.Result, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*engine.Result), args.Error(1)
}

func (m *mockLocator) Approve(o model.ValidationOutcome, approver string, force bool) (model.ValidationOutcome, error) {
	args := m.Called(o, approver, force)
	return args.Get(0).(model.ValidationOutcome), args.Error(1)
}

func (m *mockLocator) Promote(ctx context.Context, q model.LocationQuery, o model.ValidationOutcome) (model.CacheWriteResult, error) {
	args := m.Called(ctx, q, o)
	return args.Get(0).(model.CacheWriteResult), args.Error(1)
}

func (m *mockLocator) Invalidate(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocator) ListCache(ctx context.Context, filter store.ListFilter) ([]model.ValidatedCacheEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ValidatedCacheEntry), args.Error(1)
}

func (m *mockLocator) Health() map[string]string {
	return m.Called().Get(0).(map[string]string)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	loc := new(mockLocator)
	loc.On("Health").Return(map[string]string{"photon": "open"})

	rec := do(t, New(loc).Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"photon": "open"}, body["providers"])
}

func TestLocate(t *testing.T) {
	loc := new(mockLocator)
	q := model.LocationQuery{Name: "Harare Central Hospital", CountryHint: "ZW"}
	loc.On("Locate", mock.Anything, q).Return(&engine.Result{
		RequestID: "req-1",
		Query:     q,
		Outcome:   model.ValidationOutcome{Status: model.StatusNeedsReview, Confidence: 0.82},
	}, nil)

	rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/locate", `{"name":"Harare Central Hospital","country_hint":"ZW"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res engine.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.StatusNeedsReview, res.Outcome.Status)
	assert.InDelta(t, 0.82, res.Outcome.Confidence, 1e-9)
	loc.AssertExpectations(t)
}

func TestLocate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad body", `{"name":`, nil, http.StatusBadRequest},
		{"empty query", `{"name":""}`, eris.Wrap(model.ErrEmptyQuery, "engine: resolve"), http.StatusBadRequest},
		{"deadline", `{"name":"x"}`, eris.Wrap(context.DeadlineExceeded, "engine: resolve"), http.StatusGatewayTimeout},
		{"internal", `{"name":"x"}`, eris.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := new(mockLocator)
			if tt.err != nil {
				loc.On("Locate", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/locate", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeBody(t, rec), "error")
		})
	}
}

func TestApprove(t *testing.T) {
	loc := new(mockLocator)
	coord := model.Coordinate{Lat: -17.8536, Lon: 31.0337}
	q := model.LocationQuery{Name: "Harare Central Hospital"}
	approved := model.ValidationOutcome{
		Status:            model.StatusValidated,
		Confidence:        0.82,
		RecommendedSource: "nominatim",
		RecommendedCoord:  &coord,
		ApprovedBy:        "reviewer@example.org",
		DecidedAt:         time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	loc.On("Approve", mock.Anything, "reviewer@example.org", false).Return(approved, nil)
	loc.On("Promote", mock.Anything, q, approved).Return(model.CacheWriteResult{Key: "harare central hospital", Created: true}, nil)

	body := `{"query":{"name":"Harare Central Hospital"},"outcome":{"status":"needs_review","confidence":0.82,"recommended_source":"nominatim","recommended_coord":{"lat":-17.8536,"lon":31.0337}},"approver":"reviewer@example.org"}`
	rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/approve", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp approveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusValidated, resp.Outcome.Status)
	assert.True(t, resp.Cache.Created)
	assert.Equal(t, "harare central hospital", resp.Cache.Key)
	loc.AssertExpectations(t)
}

func TestApprove_Conflict(t *testing.T) {
	loc := new(mockLocator)
	loc.On("Approve", mock.Anything, "ops", false).Return(model.ValidationOutcome{}, eris.Wrap(validate.ErrNotApprovable, "status rejected"))

	rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/approve", `{"query":{"name":"X"},"outcome":{"status":"rejected"},"approver":"ops"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	loc.AssertNotCalled(t, "Promote", mock.Anything, mock.Anything, mock.Anything)
}

func TestApprove_PromoteRejected(t *testing.T) {
	loc := new(mockLocator)
	loc.On("Approve", mock.Anything, "ops", true).Return(model.ValidationOutcome{Status: model.StatusPending}, nil)
	loc.On("Promote", mock.Anything, mock.Anything, mock.Anything).Return(model.CacheWriteResult{}, eris.Wrap(promote.ErrNotValidated, "status pending"))

	rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/approve", `{"query":{"name":"X"},"outcome":{"status":"pending"},"approver":"ops","force":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprove_MissingQuery(t *testing.T) {
	loc := new(mockLocator)
	rec := do(t, New(loc).Handler(), http.MethodPost, "/v1/approve", `{"outcome":{"status":"needs_review"},"approver":"ops"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	loc.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
}

func TestListCache(t *testing.T) {
	loc := new(mockLocator)
	loc.On("ListCache", mock.Anything, store.ListFilter{CountryCode: "ZW", Limit: 10, Offset: 20}).
		Return([]model.ValidatedCacheEntry{{Key: "harare central hospital", CountryCode: "ZW"}}, nil)

	rec := do(t, New(loc).Handler(), http.MethodGet, "/v1/cache?country=ZW&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []model.ValidatedCacheEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "harare central hospital", resp.Entries[0].Key)
	loc.AssertExpectations(t)
}

func TestListCache_EmptyAndBadParams(t *testing.T) {
	loc := new(mockLocator)
	loc.On("ListCache", mock.Anything, store.ListFilter{}).Return(nil, nil)
	h := New(loc).Handler()

	rec := do(t, h, http.MethodGet, "/v1/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/cache?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/cache?offset=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidate(t *testing.T) {
	loc := new(mockLocator)
	loc.On("Invalidate", mock.Anything, "Harare Central Hospital").Return(true, nil).Once()
	loc.On("Invalidate", mock.Anything, "Unknown").Return(false, nil).Once()
	h := New(loc).Handler()

	rec := do(t, h, http.MethodDelete, "/v1/cache/Harare%20Central%20Hospital", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/v1/cache/Unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	loc.AssertExpectations(t)
}

func TestCORSPreflight(t *testing.T) {
	loc := new(mockLocator)
	h := New(loc, WithCORSOrigins("https://ops.example.org")).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/locate", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}
