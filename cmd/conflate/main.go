package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systemed/conflation/pkg/journal"
	"github.com/systemed/conflation/pkg/monitoring"
	"github.com/systemed/conflation/pkg/osmapi"
	"github.com/systemed/conflation/pkg/server"
	"github.com/systemed/conflation/pkg/session"
	"github.com/systemed/conflation/pkg/tools"
	"github.com/systemed/conflation/pkg/tracing"
	ver "github.com/systemed/conflation/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool

	// OSM flags
	osmAPI      string
	devServer   bool
	readerKind  string
	overpassURL string
	osmRPS      float64
	osmBurst    int

	// Session flags
	journalPath string
	comment     string
	maxDistance float64

	// HTTP transport flags
	enableHTTP    bool
	httpOnly      bool
	httpAddr      string
	httpBaseURL   string
	httpAuthType  string
	httpAuthToken string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")

	flag.StringVar(&osmAPI, "osm-api", "", "OSM API base URL (default $OSM_API_URL or "+osmapi.DefaultBaseURL+")")
	flag.BoolVar(&devServer, "dev", false, "Use the OSM development server")
	flag.StringVar(&readerKind, "reader", "api", "Map data source: api or overpass")
	flag.StringVar(&overpassURL, "overpass-url", osmapi.DefaultOverpassURL, "Overpass interpreter URL")
	flag.Float64Var(&osmRPS, "osm-rps", 1.0, "OSM API rate limit in requests per second")
	flag.IntVar(&osmBurst, "osm-burst", 1, "OSM API rate limit burst size")

	flag.StringVar(&journalPath, "journal", "", "SQLite file for reviewed features and uploads (empty keeps them in memory)")
	flag.StringVar(&comment, "comment", "", "Default changeset comment")
	flag.Float64Var(&maxDistance, "max-distance", 0, "Override the candidate search radius in meters")

	flag.BoolVar(&enableHTTP, "enable-http", false, "Enable HTTP+SSE transport (in addition to stdio)")
	flag.BoolVar(&httpOnly, "http-only", false, "Run HTTP transport only, skip stdio (requires --enable-http)")
	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL for HTTP transport (auto-detected if empty)")
	flag.StringVar(&httpAuthType, "http-auth-type", "none", "HTTP authentication type: none, bearer, basic")
	flag.StringVar(&httpAuthToken, "http-auth-token", "", "HTTP authentication token")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")
}

func main() {
	_ = godotenv.Load(".env")
	flag.Parse()

	logger := newLogger(os.Getenv("LOG_FORMAT"), logLevel(debug, os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)

	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	shutdownTracing, err := tracing.InitTracing(context.Background(), ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	if enableMonitoring {
		osmapi.SetMonitoringHooks(monitoringHooks())
	}

	client := osmapi.New(osmapi.Config{
		BaseURL:   apiBaseURL(osmAPI, os.Getenv("OSM_API_URL"), devServer),
		Username:  os.Getenv("OSM_USERNAME"),
		Password:  os.Getenv("OSM_PASSWORD"),
		RateLimit: osmRPS,
		Burst:     osmBurst,
		Logger:    logger,
	})
	if !client.HasCredentials() {
		logger.Warn("OSM_USERNAME/OSM_PASSWORD not set, uploads will fail")
	}

	reader, err := newReader(readerKind, client, overpassURL, logger)
	if err != nil {
		logger.Error("invalid reader", "error", err)
		os.Exit(2)
	}

	var jrnl *journal.Journal
	if journalPath != "" {
		jrnl, err = journal.Open(journalPath)
		if err != nil {
			logger.Error("failed to open journal", "path", journalPath, "error", err)
			os.Exit(1)
		}
		defer jrnl.Close()
	}

	sess, err := session.New(session.Options{
		Reader:      reader,
		Writer:      client,
		Journal:     jrnl,
		Comment:     comment,
		MaxDistance: maxDistance,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Shutdown()

	logger.Info("starting conflation MCP server",
		"version", ver.BuildVersion,
		"osm_api", client.BaseURL(),
		"reader", readerKind,
		"journal", journalPath,
		"http_enabled", enableHTTP,
		"monitoring_enabled", enableMonitoring,
		"monitoring_addr", monitoringAddr)

	s := server.NewServer(tools.NewRegistry(logger, sess), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(server.ServerName, ver.BuildVersion)
		defer healthChecker.Shutdown()
		healthChecker.SetEditingStatus(func() map[string]interface{} {
			st := sess.Status(context.Background())
			return map[string]interface{}{
				"state":        st.State,
				"changeset_id": st.ChangesetID,
				"dirty":        st.Dirty.Total,
				"uploading":    st.Uploading,
			}
		})

		apiMonitor := monitoring.NewConnectionMonitor("osm_api", healthChecker, client.Capabilities, 30*time.Second)
		apiMonitor.Start()
		defer apiMonitor.Stop()

		startMetricsServer(ctx, logger)
	}

	var httpTransport *server.HTTPTransport
	if enableHTTP {
		config := server.DefaultHTTPTransportConfig()
		config.Addr = httpAddr
		config.BaseURL = httpBaseURL
		config.AuthType = httpAuthType
		config.AuthToken = httpAuthToken

		httpTransport = server.NewHTTPTransport(s.MCPServer(), config, logger)
		httpTransport.Handle("/api/", server.NewEditorHandler(sess, logger))
		if healthChecker != nil {
			httpTransport.SetHealthChecker(healthChecker)
		}

		go func() {
			logger.Info("starting HTTP+SSE transport", "addr", httpAddr)
			if err := httpTransport.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP transport error", "error", err)
			}
		}()
	}

	switch {
	case !enableHTTP:
		logger.Info("transport_enabled", "type", "stdio", "mode", "blocking")
		if err := s.RunWithContext(ctx); err != nil {
			logger.Error("server error", "error", err)
		}
	case httpOnly:
		logger.Info("server_ready", "transports", []string{"http"}, "http_only", true)
		<-ctx.Done()
	default:
		go func() {
			logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := s.RunWithContext(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
			}
		}()
		logger.Info("server_ready", "transports", []string{"stdio", "http"})
		<-ctx.Done()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if httpTransport != nil {
		if err := httpTransport.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP transport", "error", err)
		}
	}

	if st := sess.Status(shutdownCtx); st.ChangesetID != 0 {
		if err := sess.Close(shutdownCtx); err != nil {
			logger.Error("failed to close changeset", "changeset", st.ChangesetID, "error", err)
		}
	}
	if st := sess.Status(shutdownCtx); st.Dirty.Total > 0 {
		logger.Warn("exiting with unsaved edits", "dirty", st.Dirty.Total)
	}

	logger.Info("server stopped")
}

// newLogger builds the process logger on stderr; stdout carries MCP.
func newLogger(format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// logLevel resolves -debug and LOG_LEVEL; the flag wins.
func logLevel(debug bool, env string) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(env)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// apiBaseURL picks the OSM server: -osm-api, then -dev, then OSM_API_URL.
func apiBaseURL(flagValue, envValue string, dev bool) string {
	switch {
	case flagValue != "":
		return flagValue
	case dev:
		return osmapi.DevBaseURL
	case envValue != "":
		return envValue
	}
	return osmapi.DefaultBaseURL
}

func newReader(kind string, client *osmapi.Client, overpass string, logger *slog.Logger) (session.Reader, error) {
	switch kind {
	case "", "api":
		return client, nil
	case "overpass":
		return osmapi.NewOverpass(overpass, nil, logger), nil
	}
	return nil, fmt.Errorf("unknown reader %q: want api or overpass", kind)
}

func monitoringHooks() *osmapi.MonitoringHooks {
	return &osmapi.MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			monitoring.RecordExternalServiceRequest(service, operation, duration, success)
		},
		OnRateLimit: func(service string, waitTime time.Duration) {
			monitoring.RecordRateLimitWait(service, waitTime)
		},
		OnCache: func(cacheType string, hit bool, size int) {
			if hit {
				monitoring.RecordCacheHit(cacheType)
			} else {
				monitoring.RecordCacheMiss(cacheType)
			}
			monitoring.UpdateCacheSize(cacheType, size)
		},
		OnError: func(service, errorType string) {
			monitoring.RecordError(service, errorType)
		},
	}
}

// startMetricsServer serves Prometheus metrics until ctx is done.
func startMetricsServer(ctx context.Context, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              monitoringAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting Prometheus metrics server", "addr", monitoringAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}
