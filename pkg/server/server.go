// Package server runs the conflation MCP server over stdio or HTTP+SSE.
package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/systemed/conflation/pkg/tools"
	"github.com/systemed/conflation/pkg/version"
)

// ServerName is the name of the MCP server
const ServerName = "conflate"

// Server encapsulates the MCP server with the conflation tools.
type Server struct {
	srv    *mcpserver.MCPServer
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewServer creates an MCP server with every tool and prompt of registry.
func NewServer(registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing conflation MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)
	registry.RegisterAll(srv)

	return &Server{
		srv:    srv,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run serves MCP on stdin/stdout until the input closes or Shutdown is called.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		if err := mcpserver.ServeStdio(s.srv); err != nil && err != io.EOF {
			s.logger.Error("server error", "error", err)
		}
		s.Shutdown()
	}()

	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// RunWithContext is Run that also stops when ctx is canceled.
func (s *Server) RunWithContext(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.stopCh:
		}
	}()
	return s.Run()
}

// Shutdown asks Run to return. It does not block.
func (s *Server) Shutdown() {
	s.once.Do(func() { close(s.stopCh) })
}

// WaitForShutdown blocks until the stdio loop has exited.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// MCPServer returns the underlying MCP server for the HTTP transport.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.srv
}
