package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/honeypot/internal/api"
	"github.com/ashureev/honeypot/internal/middleware"
	"github.com/ashureev/honeypot/internal/monitor"
	"github.com/ashureev/honeypot/internal/observability"
)

// storeHealthService is the gRPC health service name tracking the store.
const storeHealthService = "honeypot.store"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server",
		"port", cfg.Port,
		"store", cfg.Store.Backend,
		"llm_credentials", len(cfg.LLM.APIKeys),
		"callback", cfg.Callback.URL != "")

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "honeypot", cfg.OTLPEndpoint)
		if err != nil {
			slog.Warn("Tracing disabled", "error", err)
		} else {
			defer func() {
				tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(tctx); err != nil {
					slog.Error("Failed to flush traces", "error", err)
				}
			}()
		}
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}

	// The store is allowed to be down at startup: turns degrade to
	// ephemeral sessions until it comes back.
	if err := a.store.Ping(ctx); err != nil {
		slog.Warn("Session store health check failed", "error", err)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer rateLimiter.Stop()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.APIKey(cfg.APIKey, "/health", "/metrics"))

	api.NewHealthHandler(a.store, 5*time.Second).RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rateLimiter.Handler)
		api.NewHandler(a.orch, logger).RegisterRoutes(r)
	})
	monitor.NewWebSocketHandler(a.hub, wsOriginPatterns(cfg.CORSOrigins), logger).RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket feed is long lived
		IdleTimeout:  120 * time.Second,
	}

	if err := a.lifecycle.Start(ctx); err != nil {
		slog.Error("Failed to start lifecycle worker", "error", err)
		_ = a.Close(context.Background())
		return err
	}
	slog.Info("Lifecycle worker started",
		"schedule", cfg.Session.LifecycleSchedule,
		"idle_finalize_after", cfg.Session.IdleFinalizeAfter,
		"session_ttl", cfg.Session.TTL)

	var grpcSrv *grpc.Server
	if cfg.GRPCHealthAddr != "" {
		grpcSrv, err = startHealthServer(ctx, cfg.GRPCHealthAddr, a.store)
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			_ = a.Close(context.Background())
			return err
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			if grpcSrv != nil {
				grpcSrv.Stop()
			}
			_ = a.Close(context.Background())
			return err
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := a.Close(shutdownCtx); err != nil {
		slog.Error("Shutdown incomplete", "error", err)
		return err
	}

	slog.Info("Server stopped successfully")
	return nil
}

func wsOriginPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

type pinger interface {
	Ping(ctx context.Context) error
}

// startHealthServer exposes grpc.health.v1. The overall service is always
// SERVING because turns degrade instead of failing; storeHealthService
// tracks the session store.
func startHealthServer(ctx context.Context, addr string, st pinger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	update := func() {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := st.Ping(pctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(storeHealthService, status)
	}
	update()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	go func() {
		slog.Info("gRPC health server listening", "addr", addr)
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return gs, nil
}
