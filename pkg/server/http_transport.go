package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/monitoring"
)

// HTTPTransportConfig holds configuration for the HTTP transport
type HTTPTransportConfig struct {
	Addr           string  `json:"addr"`
	BaseURL        string  `json:"base_url"`  // public URL advertised to SSE clients
	AuthType       string  `json:"auth_type"` // none, bearer or basic
	AuthToken      string  `json:"auth_token"`
	SSEEndpoint    string  `json:"sse_endpoint"`
	MsgEndpoint    string  `json:"msg_endpoint"`
	RateLimit      float64 `json:"rate_limit"` // requests per second per client, 0 disables
	RateBurst      int     `json:"rate_burst"`
	MaxRequestSize int64   `json:"max_request_size"`
	TLSCertFile    string  `json:"tls_cert_file"`
	TLSKeyFile     string  `json:"tls_key_file"`
}

// DefaultHTTPTransportConfig returns sensible defaults
func DefaultHTTPTransportConfig() HTTPTransportConfig {
	return HTTPTransportConfig{
		Addr:           ":7082",
		AuthType:       core.AuthNone,
		SSEEndpoint:    "/sse",
		MsgEndpoint:    "/message",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 4 << 20, // GeoJSON features for large areas
	}
}

// HTTPTransport serves MCP over HTTP+SSE next to the health endpoints and
// any extra handlers mounted with Handle.
type HTTPTransport struct {
	config        HTTPTransportConfig
	auth          core.Authenticator
	logger        *slog.Logger
	sseServer     *mcpserver.SSEServer
	mux           *http.ServeMux
	httpSrv       *http.Server
	rateLimiter   *RateLimiter
	healthChecker *monitoring.HealthChecker
	mu            sync.RWMutex
}

// NewHTTPTransport creates a new HTTP transport instance
func NewHTTPTransport(mcpServer *mcpserver.MCPServer, config HTTPTransportConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	auth := core.Authenticator{Type: config.AuthType, Token: config.AuthToken}
	if auth.Enabled() {
		if err := core.ValidateAuthToken(config.AuthToken); err != nil {
			logger.Warn("weak authentication token detected", "error", err.Error())
		}
	}

	t := &HTTPTransport{
		config: config,
		auth:   auth,
		logger: logger,
		sseServer: mcpserver.NewSSEServer(
			mcpServer,
			mcpserver.WithSSEEndpoint(config.SSEEndpoint),
			mcpserver.WithMessageEndpoint(config.MsgEndpoint),
			mcpserver.WithBaseURL(config.BaseURL),
		),
		mux: http.NewServeMux(),
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	t.setupRoutes()
	return t
}

// SetHealthChecker sets the health checker for the HTTP transport
func (t *HTTPTransport) SetHealthChecker(hc *monitoring.HealthChecker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthChecker = hc
}

// Handle mounts h behind authentication. Call before Start.
func (t *HTTPTransport) Handle(pattern string, h http.Handler) {
	t.mux.Handle(pattern, t.authMiddleware(h))
}

func (t *HTTPTransport) setupRoutes() {
	t.mux.HandleFunc("GET /{$}", t.handleServiceDiscovery)

	// Probes are unauthenticated.
	t.mux.HandleFunc("GET /health", t.probe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.HealthHandler() }, "status", "ok"))
	t.mux.HandleFunc("GET /ready", t.probe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.ReadinessHandler() }, "ready", true))
	t.mux.HandleFunc("GET /live", t.probe(func(hc *monitoring.HealthChecker) http.HandlerFunc { return hc.LivenessHandler() }, "alive", true))

	sse := t.authMiddleware(t.sseServer.SSEHandler())
	msg := t.authMiddleware(t.sseServer.MessageHandler())
	t.mux.Handle(t.config.SSEEndpoint, sse)
	t.mux.Handle(t.config.SSEEndpoint+"/", sse)
	t.mux.Handle(t.config.MsgEndpoint, msg)
	t.mux.Handle(t.config.MsgEndpoint+"/", msg)
}

// probe serves a health checker handler, or a minimal body when no checker is set.
func (t *HTTPTransport) probe(pick func(*monitoring.HealthChecker) http.HandlerFunc, key string, value interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.mu.RLock()
		hc := t.healthChecker
		t.mu.RUnlock()

		if hc != nil {
			pick(hc)(w, r)
			return
		}
		t.writeJSON(w, http.StatusOK, map[string]interface{}{key: value})
	}
}

func (t *HTTPTransport) authMiddleware(next http.Handler) http.Handler {
	if !t.auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := t.auth.Authenticate(r)
		if !result.Authorized {
			t.logger.Warn("authentication failed",
				"remote_addr", getIP(r),
				"path", r.URL.Path,
				"auth_type", t.auth.Type,
				"error", result.Error,
				"auth_duration", result.Duration)
			w.Header().Set("WWW-Authenticate", t.auth.Challenge())
			t.writeJSONRPCError(w, http.StatusUnauthorized, -32001, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *HTTPTransport) handleServiceDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := t.config.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}

	t.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   ServerName,
		"transport": "HTTP+SSE",
		"endpoints": map[string]string{
			"sse":     baseURL + t.config.SSEEndpoint,
			"message": baseURL + t.config.MsgEndpoint,
		},
		"auth": map[string]interface{}{
			"required": t.auth.Enabled(),
			"type":     t.auth.Type,
		},
	})
}

func (t *HTTPTransport) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.logger.Error("failed to encode response", "error", err)
	}
}

func (t *HTTPTransport) writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	t.writeJSON(w, status, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// Handler returns the full middleware chain around the routes.
func (t *HTTPTransport) Handler() http.Handler {
	handler := http.Handler(t.mux)
	if t.rateLimiter != nil {
		handler = t.rateLimiter.Middleware(handler)
	}
	handler = TracingMiddleware()(handler)
	handler = LoggingMiddleware(t.logger)(handler)
	handler = SecurityHeaders(handler)
	if t.config.MaxRequestSize > 0 {
		handler = RequestSizeLimiter(t.config.MaxRequestSize)(handler)
	}
	return handler
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP transport already started").
			WithGuidance("Stop the running transport before starting it again.")
	}
	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: SSE streams stay open for the whole session.
	}
	srv := t.httpSrv
	t.mu.Unlock()

	tls := t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
	t.logger.Info("starting HTTP transport",
		"addr", t.config.Addr,
		"sse_endpoint", t.config.SSEEndpoint,
		"message_endpoint", t.config.MsgEndpoint,
		"auth_type", t.auth.Type,
		"rate_limit", t.config.RateLimit,
		"tls_enabled", tls)

	if tls {
		return srv.ListenAndServeTLS(t.config.TLSCertFile, t.config.TLSKeyFile)
	}
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP transport
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.httpSrv == nil {
		return nil
	}

	t.logger.Info("shutting down HTTP transport")
	if err := t.sseServer.Shutdown(ctx); err != nil {
		t.logger.Error("failed to shutdown SSE server", "error", err)
	}
	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

// GetConfig returns the transport configuration
func (t *HTTPTransport) GetConfig() HTTPTransportConfig {
	return t.config
}
