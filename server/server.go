// Package server runs the gateway process: config loading, subgraph
// registration at startup, HTTP routing and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/weftql/weft/gateway"
	"github.com/weftql/weft/registry"
	"github.com/weftql/weft/telemetry"
)

const drainTimeout = 5 * time.Second

type server struct {
	registry        *registry.Registry
	graphqlEndpoint string
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.graphqlEndpoint, func(w http.ResponseWriter, r *http.Request) {
		s.registry.Handler().ServeHTTP(w, r)
	})
	mux.HandleFunc("POST /schema/registration", s.registry.HandleRegister)
	mux.HandleFunc("GET /schema", s.registry.HandleSchema)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// Run starts the server described by the config file at path and blocks
// until SIGTERM or interrupt, then drains in-flight requests.
func Run(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	reg := registry.New(gateway.NewClient(cfg.SubgraphTimeout()), logger)
	go reg.Start(ctx)

	for _, sub := range cfg.Subgraphs {
		if err := reg.Register(ctx, sub.Name, sub.URL, ""); err != nil {
			return fmt.Errorf("register subgraph %q: %w", sub.Name, err)
		}
		logger.Info("subgraph registered",
			slog.String("subgraph", sub.Name),
			slog.String("url", sub.URL))
	}

	s := &server{registry: reg, graphqlEndpoint: cfg.Gateway.Endpoint}
	srv := &http.Server{
		Addr:    cfg.Gateway.Listen,
		Handler: otelhttp.NewHandler(s.routes(), "weft.http"),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.Gateway.Listen),
			slog.String("endpoint", cfg.Gateway.Endpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return srv.Shutdown(drainCtx)
}
