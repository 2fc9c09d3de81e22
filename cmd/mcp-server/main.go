// Command mcp-server exposes realsolve as an HTTP tool endpoint for agent
// frameworks.
//
// Usage:
//
//	mcp-server --config realsolve.yaml --addr :8080
//
// Tool call endpoint: POST /tool
// Schema endpoint:    GET  /schema
// Health endpoint:    GET  /health
// Metrics endpoint:   GET  /metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/njchilds90/realsolve"
	"github.com/njchilds90/realsolve/internal/config"
	"github.com/njchilds90/realsolve/internal/logging"
	"github.com/njchilds90/realsolve/internal/server"
	"github.com/njchilds90/realsolve/internal/telemetry"
	"github.com/njchilds90/realsolve/kernel"
)

func main() {
	var configPath, addr, logLevel string

	cmd := &cobra.Command{
		Use:           "mcp-server",
		Short:         "Serve realsolve tools over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcp-server:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, NoColor: cfg.Log.NoColor})
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(cfg.Telemetry, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	engine := kernel.New(
		kernel.WithSearchRange(cfg.Solver.SearchRange),
		kernel.WithTolerance(cfg.Solver.Tolerance),
		kernel.WithMaxIter(cfg.Solver.MaxIter),
	)
	solver := realsolve.NewSolver(engine,
		realsolve.WithLogger(logger),
		realsolve.WithConcurrency(cfg.Solver.Concurrency),
	)

	gin.SetMode(gin.ReleaseMode)
	logger.Info("starting mcp-server",
		"addr", cfg.Server.Addr,
		"concurrency", cfg.Solver.Concurrency,
		"trace_exporter", cfg.Telemetry.TraceExporter)
	return server.New(cfg, solver, logger).Run(ctx)
}
