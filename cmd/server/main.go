package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/app"
	"github.com/isdmx/sqlbox/config"
	"github.com/isdmx/sqlbox/grading"
	"github.com/isdmx/sqlbox/mcpserver"
	"github.com/isdmx/sqlbox/sandbox"
)

func main() {
	fxApp := fx.New(
		app.Module,

		fx.Provide(newMCPServer),

		fx.Invoke(
			serveMetrics,
			serveMCP,
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	fxApp.Run()
}

func newMCPServer(cfg *config.Config, log *zap.Logger, prov *sandbox.Provisioner, exec *sandbox.Executor, grader *grading.Grader) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, prov, exec, grader)
}

// serveMCP starts the configured transport once the application has started.
func serveMCP(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, server *mcpserver.MCPServer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				var err error
				switch cfg.Server.Transport {
				case "stdio":
					err = server.ServeStdio()
				case "http":
					err = server.ServeHTTP()
				}
				switch {
				case err == nil:
					// stdin closed: the client went away
					_ = shutdowner.Shutdown()
				case errors.Is(err, http.ErrServerClosed):
				default:
					log.Error("MCP transport stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

// serveMetrics exposes Prometheus metrics when enabled.
func serveMetrics(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
