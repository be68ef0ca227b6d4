// Package client provides the HTTP transport used by the fetch stream to
// request pages from an admission-controlled server.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/leaky-pager/pkg/clock"
	"github.com/Sternrassler/leaky-pager/pkg/query"
)

// Prometheus metrics for page requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_client_requests_total",
		Help: "Total page requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pager_client_request_duration_seconds",
		Help:    "Page request duration in seconds by HTTP status",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"status"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pager_client_errors_total",
		Help: "Total failed page requests by error class",
	}, []string{"class"})
)

// DefaultUserAgent identifies the client when none is configured.
const DefaultUserAgent = "leaky-pager"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the admission-controlled server, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// UserAgent header sent on every request.
	UserAgent string

	// Timeout bounds a single request including reading the body.
	// Ignored when HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// Client requests pages from the server. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
	clock      clock.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source used for retry backoff.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

// New creates a new client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "pager-client").Logger(),
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// FetchPage requests the page described by q.
//
// Any HTTP status is returned as a response; classifying it is up to the
// caller. Only transport failures return an error, as a *StatusError of class
// ErrorClassNetwork. The caller must close the response body.
func (c *Client) FetchPage(ctx context.Context, q query.Query) (*http.Response, error) {
	u := c.endpoint("/")
	u.RawQuery = q.Encode().Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Int("page", q.Page).
		Uint16("page_size", q.EffectivePageSize()).
		Int("fields", len(q.Fields)).
		Msg("Requesting page")

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Int("page", q.Page).Msg("Page request failed")
		return nil, &StatusError{
			ErrorClass: ErrorClassNetwork,
			Message:    "page request failed",
			Err:        err,
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(status).Inc()
	requestDuration.WithLabelValues(status).Observe(c.clock.Now().Sub(start).Seconds())
	if class := Classify(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
	}

	return resp, nil
}

// Health performs a single GET /health and returns nil on 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health").String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &StatusError{ErrorClass: ErrorClassNetwork, Message: "health check failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return NewStatusError(resp.StatusCode, msg)
	}
	return nil
}

// WaitReady polls Health until it succeeds, backing off between attempts.
func (c *Client) WaitReady(ctx context.Context, cfg RetryConfig) error {
	return retryWithBackoff(ctx, c.clock, cfg, func() error {
		return c.Health(ctx)
	})
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}
