package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/facility-locator/internal/resilience"
)

const maxBodyBytes = 4 << 20

// Option configures an HTTP-backed provider.
type Option func(*httpBackend)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *httpBackend) {
		b.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(b *httpBackend) {
		b.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// WithBaseURL points the provider at another instance, e.g. a self-hosted one.
func WithBaseURL(u string) Option {
	return func(b *httpBackend) {
		b.baseURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(b *httpBackend) {
		b.apiKey = key
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(b *httpBackend) {
		b.userAgent = ua
	}
}

// WithName overrides the provider name, used to tell instances apart.
func WithName(name string) Option {
	return func(b *httpBackend) {
		b.name = name
	}
}

// httpBackend is the transport shared by the HTTP providers.
type httpBackend struct {
	name      string
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

func newBackend(name, baseURL string, rps float64, opts []Option) httpBackend {
	b := httpBackend{
		name:      name,
		baseURL:   baseURL,
		userAgent: "facility-locator",
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// getJSON performs a GET and decodes the body into out, returning the raw
// bytes. HTTP failures map onto the package sentinels.
func (b *httpBackend) getJSON(ctx context.Context, reqURL string, out any) (json.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline would pass before a token frees up.
		cause := ctx.Err()
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		return nil, &Error{Provider: b.name, Op: "rate limit", Err: cause}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: %s build request", b.name)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Provider: b.name, Op: "request", Err: ctxErr}
		}
		return nil, &Error{Provider: b.name, Op: "request", Kind: ErrUnavailable, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(b.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Provider: b.name, Op: "read body", Kind: ErrUnavailable, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, &Error{Provider: b.name, Op: "parse response", Kind: ErrParse, Err: err}
	}
	return json.RawMessage(body), nil
}

func statusError(name string, code int) error {
	e := &Error{Provider: name, Op: "request", Err: &resilience.StatusError{Service: name, StatusCode: code}}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = ErrAuth
	case http.StatusNotFound:
		e.Kind = ErrNoResults
	default:
		e.Kind = ErrUnavailable
	}
	return e
}

// Error is a failed provider call. It matches its Kind sentinel and the
// underlying cause under errors.Is and errors.As.
type Error struct {
	Provider string
	Op       string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("geocode: ")
	b.WriteString(e.Provider)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(strings.TrimPrefix(e.Kind.Error(), "geocode: "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// failure builds an Error without an underlying cause.
func failure(provider, op string, kind error, format string, args ...any) error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Provider: provider, Op: op, Kind: kind, Err: cause}
}
