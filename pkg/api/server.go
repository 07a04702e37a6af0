// Package api exposes the agent runtime over HTTP: a health endpoint, an
// agent card, reference message ingestion, and any routes the loaded
// plugins declare.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/murmur/pkg/runtime"
)

// Server wraps an echo instance bound to one agent runtime.
type Server struct {
	rt     *runtime.AgentRuntime
	logger *slog.Logger

	echo    *echo.Echo
	handler http.Handler
	http    *http.Server
}

// NewServer builds the HTTP surface for rt. Plugin routes registered at
// construction time are mounted under their declared method and path;
// routes registered later are not picked up.
func NewServer(rt *runtime.AgentRuntime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rt:     rt,
		logger: logger.With("component", "api"),
		echo:   echo.New(),
	}

	s.echo.Use(s.recovery())
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/api/v1/agent", s.agentHandler)
	s.echo.POST("/api/v1/messages", s.sendMessageHandler)
	s.echo.POST("/api/v1/control", s.controlHandler)

	for _, r := range rt.Routes() {
		s.echo.Add(r.Method, r.Path, r.Handler)
	}

	s.handler = s.requestLogger(s.echo)

	return s
}

// Start listens on addr and serves until Shutdown or a listener error.
// It blocks; run it in a goroutine and treat http.ErrServerClosed as a
// clean exit.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
