package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/systemed/conflation/pkg/core"
	"github.com/systemed/conflation/pkg/monitoring"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, mutate func(*HTTPTransportConfig)) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	config := DefaultHTTPTransportConfig()
	config.RateLimit = 0
	if mutate != nil {
		mutate(&config)
	}
	transport := NewHTTPTransport(mcpserver.NewMCPServer("test-server", "1.0.0"), config, quietLogger())
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)
	return transport, srv
}

func TestHTTPTransportServiceDiscovery(t *testing.T) {
	_, srv := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.BaseURL = "https://conflate.example.org"
	})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var discovery struct {
		Service   string            `json:"service"`
		Transport string            `json:"transport"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		t.Fatal(err)
	}
	if discovery.Service != ServerName || discovery.Transport != "HTTP+SSE" {
		t.Errorf("unexpected discovery %+v", discovery)
	}
	if discovery.Endpoints["sse"] != "https://conflate.example.org/sse" {
		t.Errorf("unexpected sse endpoint %q", discovery.Endpoints["sse"])
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", resp.StatusCode)
	}
}

func TestHTTPTransportProbes(t *testing.T) {
	transport, srv := newTestTransport(t, nil)

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200 without a health checker, got %d", path, resp.StatusCode)
		}
	}

	hc := monitoring.NewHealthChecker("conflate", "test")
	t.Cleanup(hc.Shutdown)
	transport.SetHealthChecker(hc)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health monitoring.ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Service != "conflate" {
		t.Errorf("expected health checker body, got %+v", health)
	}
}

func TestHTTPTransportBearerAuth(t *testing.T) {
	const token = "f3a9c1d07b6e4e2a"
	transport, srv := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.AuthType = core.AuthBearer
		c.AuthToken = token
	})
	transport.Handle("GET /api/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("expected bearer challenge, got %q", resp.Header.Get("WWW-Authenticate"))
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}

	// Probes stay open.
	resp, err = http.Get(srv.URL + "/live")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected unauthenticated /live, got %d", resp.StatusCode)
	}
}

func TestHTTPTransportSSEEndpoint(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("expected event stream, got %q", resp.Header.Get("Content-Type"))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, "/message") {
				t.Errorf("expected endpoint event pointing at /message, got %q", line)
			}
			return
		}
	}
	t.Fatal("no endpoint event received")
}

func TestHTTPTransportMessageWithoutSession(t *testing.T) {
	_, srv := newTestTransport(t, nil)

	resp, err := http.Post(srv.URL+"/message", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("expected message without sessionId to be rejected")
	}
}

func TestHTTPTransportRateLimit(t *testing.T) {
	_, srv := newTestTransport(t, func(c *HTTPTransportConfig) {
		c.RateLimit = 1
		c.RateBurst = 1
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/live")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected 200 then 429, got %v", codes)
	}
}

func TestHTTPTransportShutdownBeforeStart(t *testing.T) {
	transport, _ := newTestTransport(t, nil)
	if err := transport.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of an idle transport should succeed, got %v", err)
	}
}
