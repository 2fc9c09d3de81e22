// Package server exposes the solver over HTTP.
//
// Routes:
//
//	POST /tool         MCP-style tool call (realsolve.ToolRequest)
//	POST /solve        {"equation","variable","target"} -> {"solutions":[...]}
//	POST /solve/batch  {"requests":[...]} -> {"results":[...]}
//	POST /group        {"expr"} -> first parenthesized group
//	POST /decompose    {"expr"} -> sub-term tree
//	GET  /schema       tool schema
//	GET  /health       liveness
//	GET  /metrics      Prometheus
//
// Failures of the solve pipeline answer 422 with {"error","kind"}.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/njchilds90/realsolve"
	"github.com/njchilds90/realsolve/internal/config"
)

type Server struct {
	cfg    config.Config
	solver *realsolve.Solver
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router. The gin mode is left to the caller.
func New(cfg config.Config, solver *realsolve.Solver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{cfg: cfg, solver: solver, logger: logger}

	r := gin.New()
	r.Use(
		s.recovery(),
		requestID(),
		s.accessLog(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
	)

	api := r.Group("/", rateLimit(cfg.Server.RateLimit), bodyLimit(cfg.Server.MaxBodyBytes))
	api.POST("/tool", s.handleTool)
	api.POST("/solve", s.handleSolve)
	api.POST("/solve/batch", s.handleBatch)
	api.POST("/group", s.handleGroup)
	api.POST("/decompose", s.handleDecompose)
	api.GET("/schema", s.handleSchema)

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}
