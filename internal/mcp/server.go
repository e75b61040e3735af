// Package mcp exposes the configured servers as MCP tools over stdio.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/acolita/ptyexec/internal/config"
	"github.com/acolita/ptyexec/internal/session"
)

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	manager   *session.Manager
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionManager sets the manager holding the server executors.
func WithSessionManager(m *session.Manager) ServerOption {
	return func(s *Server) {
		s.manager = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server for the servers in cfg.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(false),
			server.WithLogging(),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.manager == nil {
		s.manager = session.NewManager(cfg, session.WithLogger(s.logger))
	}

	s.registerTools()
	return s
}

// Run serves MCP on stdin and stdout until stdin closes.
func (s *Server) Run() error {
	s.logger.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a reloaded configuration. Servers whose settings
// changed are reconnected on their next use.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.manager.UpdateConfig(cfg)
	s.logger.Info("configuration hot-reloaded", slog.Int("servers", len(cfg.Servers)))
}

// Close disconnects every server.
func (s *Server) Close() error {
	return s.manager.Close()
}
