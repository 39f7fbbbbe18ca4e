package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = &StatusError{Service: "test", StatusCode: http.StatusServiceUnavailable}

func fail(_ context.Context) (int, error) { return 0, errBoom }
func succeed(_ context.Context) (int, error) { return 42, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("google", Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	for range 3 {
		_, err := Do(context.Background(), b, fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, Open, b.State())

	called := false
	_, err := Do(context.Background(), b, func(_ context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_NonTrippingErrorsDoNotOpen(t *testing.T) {
	b := NewBreaker("nominatim", Config{FailureThreshold: 2})
	notFound := errors.New("no results")

	for range 5 {
		_, _ = Do(context.Background(), b, func(_ context.Context) (int, error) { return 0, notFound })
	}
	assert.Equal(t, Closed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("photon", Config{FailureThreshold: 3})
	_, _ = Do(context.Background(), b, fail)
	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, 2, b.Failures())

	v, err := Do(context.Background(), b, succeed)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Zero(t, b.Failures())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	b := NewBreaker("google", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	_, err := Do(context.Background(), b, succeed)
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("google", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	now = now.Add(11 * time.Second)
	_, _ = Do(context.Background(), b, fail)
	assert.Equal(t, Open, b.State())

	_, err := Do(context.Background(), b, succeed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_HalfOpenAdmitsOnlyProbes(t *testing.T) {
	now := time.Now()
	b := NewBreaker("google", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Second, Probes: 1})
	b.now = func() time.Time { return now }

	_, _ = Do(context.Background(), b, fail)
	now = now.Add(11 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), b, func(_ context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	var wg sync.WaitGroup
	var mu sync.Mutex
	rejected := 0
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Do(context.Background(), b, succeed); errors.Is(err, ErrOpen) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, rejected)
	assert.Equal(t, HalfOpen, b.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Closed, b.State())

	_, err := Do(context.Background(), b, succeed)
	assert.NoError(t, err)
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("google", Config{FailureThreshold: 1})
	_, _ = Do(context.Background(), b, fail)
	require.Equal(t, Open, b.State())
	b.Reset()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker("google", Config{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = Do(context.Background(), b, fail)
			} else {
				_, _ = Do(context.Background(), b, succeed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(FromSettings(1, 60))
	g := r.Get("google")
	assert.Same(t, g, r.Get("google"))
	assert.NotSame(t, g, r.Get("photon"))

	_, _ = Do(context.Background(), g, fail)
	assert.Equal(t, map[string]string{"google": "open", "photon": "closed"}, r.States())
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(0, -1)
	assert.Equal(t, DefaultConfig().FailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, DefaultConfig().ResetTimeout, cfg.ResetTimeout)

	cfg = FromSettings(7, 5)
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.ResetTimeout)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"503", &StatusError{Service: "x", StatusCode: 503}, true},
		{"429", &StatusError{Service: "x", StatusCode: 429}, true},
		{"403", &StatusError{Service: "x", StatusCode: 403}, false},
		{"dns", errors.New("dial tcp: lookup x: no such host"), true},
		{"plain", errors.New("bad input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
