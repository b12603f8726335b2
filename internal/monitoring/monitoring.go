// Package monitoring serves liveness/readiness probes, Prometheus metrics
// and the standard gRPC health service.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

// Checks are the named readiness checks, e.g. "db" and "redis".
type Checks map[string]Check

// Run executes every check with timeout and returns the first failure in
// name order.
func (c Checks) Run(ctx context.Context, timeout time.Duration) (string, error) {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctxPing, cancel := context.WithTimeout(ctx, timeout)
		err := c[name](ctxPing)
		cancel()
		if err != nil {
			return name, err
		}
	}
	return "", nil
}

// HealthHandler serves /healthz and /readyz.
func HealthHandler(checks Checks) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if name, err := checks.Run(r.Context(), time.Second); err != nil {
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func serve(ctx context.Context, srv *http.Server, logger *zerolog.Logger, name string) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg(name + " server error")
	}
}

func StartHealthServer(ctx context.Context, port int, checks Checks, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           HealthHandler(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serve(ctx, srv, logger, "health")
}

func StartMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serve(ctx, srv, logger, "metrics")
}

// GRPCHealth publishes the readiness checks through grpc.health.v1.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	checks   Checks
	interval time.Duration
	logger   zerolog.Logger
}

func NewGRPCHealth(checks Checks, interval time.Duration, logger *zerolog.Logger) *GRPCHealth {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &GRPCHealth{
		server:   srv,
		health:   hs,
		checks:   checks,
		interval: interval,
		logger:   l.With().Str("component", "grpc_health").Logger(),
	}
}

// Refresh runs the checks once and updates the overall serving status.
func (g *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if name, err := g.checks.Run(ctx, time.Second); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		g.logger.Warn().Err(err).Str("check", name).Msg("readiness check failed")
	}
	g.health.SetServingStatus("", status)
	return status
}

// Serve accepts on lis until ctx is done.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()
	g.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return g.server.Serve(lis)
}

func (g *GRPCHealth) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return g.Serve(ctx, lis)
}
