// Package mcp exposes read-only review tools over the Model Context Protocol
// so that assistants can inspect the arbitration workload.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/ReviewForge/internal/domain/assignment"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/service"
)

// ConsensusReader evaluates lifecycles.
type ConsensusReader interface {
	DocumentSummary(ctx context.Context, documentID string) ([]review.Evaluation, error)
	AssertionSummary(ctx context.Context, documentID, key string) (*review.Evaluation, error)
	ConflictOverview(ctx context.Context) (*service.ConflictOverview, error)
}

// QueueReader lists lifecycles awaiting arbitration.
type QueueReader interface {
	Queue(ctx context.Context, opts service.QueueOptions) (*service.QueueResult, error)
}

// LockReader reports the assignment lock table.
type LockReader interface {
	Snapshot(ctx context.Context) map[string]assignment.Lock
}

// ServerConfig configures the MCP endpoint.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services behind the tools. Any of them may be nil; the
// affected tools then report an error result.
type ServerDeps struct {
	Consensus   ConsensusReader
	Arbitration QueueReader
	Locks       LockReader
}

// Server serves the MCP tools over streamable HTTP at /mcp.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates the server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.mcpServer))
	return AuthMiddleware(s.cfg.APIKey, mux)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String(), "auth", s.cfg.APIKey != "")
	return nil
}

// Stop shuts the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
