// Package marketdata is a client for the market-data provider that serves
// per-symbol quote, profile, and statement records as JSON.
package marketdata

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/finscreen/internal/resilience"
)

// Payload is one provider record keyed by the provider's field names.
// Numbers decode as json.Number so precision survives to the normalizer.
type Payload = map[string]any

var (
	// ErrUnknownSymbol is returned by Fetch when the provider has no record.
	ErrUnknownSymbol = eris.New("marketdata: unknown symbol")
	// ErrNotFound is returned by Raw for a 404.
	ErrNotFound = eris.New("marketdata: not found")
	// ErrMalformed is returned when a response is not a JSON object.
	ErrMalformed = eris.New("marketdata: malformed response")
)

const apiKeyHeader = "X-API-Key"

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCircuitBreaker overrides the breaker settings.
func WithCircuitBreaker(threshold int, reset time.Duration) Option {
	return func(c *Client) {
		c.breakerCfg.FailureThreshold = threshold
		c.breakerCfg.ResetTimeout = reset
	}
}

// Client talks to the provider over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breakerCfg resilience.CircuitBreakerConfig

	http    *resty.Client
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Client for the provider at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 15 * time.Second,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		retry:   resilience.DefaultRetryConfig(),
		breakerCfg: resilience.CircuitBreakerConfig{
			ShouldTrip: resilience.IsTransient,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.retry.OnRetry = resilience.RetryLogger("marketdata", "get")
	c.breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("marketdata circuit state changed",
			zap.String("component", "marketdata"),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	c.breaker = resilience.NewCircuitBreaker(c.breakerCfg)

	c.http = resty.New().
		SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json")
	if c.apiKey != "" {
		c.http.SetHeader(apiKeyHeader, c.apiKey)
	}
	return c
}

// Fetch returns the info record for symbol.
func (c *Client) Fetch(ctx context.Context, symbol string) (Payload, error) {
	body, err := c.Raw(ctx, "info", symbol)
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return nil, eris.Wrapf(ErrUnknownSymbol, "marketdata: fetch %s", symbol)
		}
		return nil, err
	}

	p, err := decodeObject(body)
	if err != nil {
		return nil, eris.Wrapf(err, "marketdata: fetch %s", symbol)
	}
	return p, nil
}

// Raw returns the response body for the provider path built from parts.
// Each part is path-escaped.
func (c *Client) Raw(ctx context.Context, parts ...string) ([]byte, error) {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	path := "/" + strings.Join(escaped, "/")

	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, path)
		})
	})
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "marketdata: rate limit wait")
		}
	}

	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, eris.Wrapf(err, "marketdata: GET %s", path)
	}

	code := resp.StatusCode()
	switch {
	case code == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "marketdata: GET %s", path)
	case resilience.IsTransientHTTPStatus(code):
		return nil, resilience.NewTransientError(
			eris.Errorf("marketdata: GET %s: status %d", path, code), code)
	case code >= 400:
		return nil, eris.Errorf("marketdata: GET %s: status %d: %s", path, code, truncate(resp.Body(), 200))
	}
	return resp.Body(), nil
}

// decodeObject decodes body as a JSON object, keeping numbers exact.
func decodeObject(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(ErrMalformed, err.Error())
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, eris.Wrapf(ErrMalformed, "expected object, got %T", v)
	}
	return obj, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
