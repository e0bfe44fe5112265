// Package osmapi talks to the OpenStreetMap editing API and to Overpass.
// It reads map data for the conflation store and writes changesets.
package osmapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/geo"
	"github.com/systemed/conflation/pkg/tracing"
	"github.com/systemed/conflation/pkg/version"
)

const (
	// DefaultBaseURL is the production OSM website.
	DefaultBaseURL = "https://www.openstreetmap.org"
	// DevBaseURL is the OSM development server, safe for test edits.
	DevBaseURL = "https://master.apis.dev.openstreetmap.org"
	// DefaultOverpassURL is the public Overpass interpreter.
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

	// MapCacheTTL is how long a fetched area is served from memory.
	MapCacheTTL = 2 * time.Minute
	// MapCacheSize bounds the number of cached areas.
	MapCacheSize = 64
)

// Reader fetches the entities in an area.
type Reader interface {
	Map(ctx context.Context, bbox geo.BoundingBox) (*osm.OSM, error)
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Username string
	Password string

	// RateLimit is requests per second, with Burst. Zero means 1/s, burst 1.
	RateLimit float64
	Burst     int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// transport carries what every call needs.
type transport struct {
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Client reads from and writes to an OSM API server.
type Client struct {
	transport
	baseURL string
	maps    *areaCache
}

// New creates a Client for cfg.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = core.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		transport: transport{
			username: cfg.Username,
			password: cfg.Password,
			http:     cfg.HTTPClient,
			limiter:  newLimiter(cfg.RateLimit, cfg.Burst),
			logger:   cfg.Logger.With("component", "osmapi"),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maps:    newAreaCache(tracing.CacheTypeMap),
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// HasCredentials reports whether the client can write.
func (c *Client) HasCredentials() bool {
	return c.username != "" && c.password != ""
}

// waitForRateLimit blocks until limiter admits one request and reports the wait.
func waitForRateLimit(ctx context.Context, limiter *rate.Limiter, service string) error {
	if limiter.Allow() {
		return nil
	}

	start := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(attribute.String(tracing.AttrRateLimitService, service)),
	)

	err := limiter.Wait(ctx)

	waited := time.Since(start)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, service),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waited.Milliseconds()),
	)
	getMonitoringHooks().rateLimit(service, waited)
	return err
}

// request describes one API call.
type request struct {
	service     string
	operation   string
	method      string
	url         string
	body        []byte
	contentType string
	auth        bool
	retry       core.RetryOptions
}

// do runs r through the limiter, retry policy and monitoring hooks, and
// returns the response body of a 2xx response.
func (c *transport) do(ctx context.Context, r request) ([]byte, error) {
	hooks := getMonitoringHooks()
	hooks.request(r.service, r.operation)

	if err := waitForRateLimit(ctx, c.limiter, r.service); err != nil {
		hooks.err(r.service, "rate_limit_wait_error")
		return nil, err
	}

	factory := func() (*http.Request, error) {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		if r.auth {
			req.SetBasicAuth(c.username, c.password)
		}
		return req, nil
	}

	start := time.Now()
	resp, err := core.WithRetryFactory(ctx, factory, c.http, r.retry)
	if err != nil {
		hooks.response(r.service, r.operation, time.Since(start), false)
		hooks.err(r.service, "request_error")
		c.logger.Debug("request failed", "operation", r.operation, "url", r.url, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	hooks.response(r.service, r.operation, time.Since(start), err == nil)
	if err != nil {
		hooks.err(r.service, "read_error")
		return nil, fmt.Errorf("reading %s response: %w", r.operation, err)
	}
	return data, nil
}

// Capabilities probes the server. It is used as the health check.
func (c *Client) Capabilities(ctx context.Context) error {
	_, err := c.do(ctx, request{
		service:   tracing.ServiceOSMAPI,
		operation: "capabilities",
		method:    http.MethodGet,
		url:       c.baseURL + "/api/capabilities",
		retry:     core.NoRetry,
	})
	return err
}
