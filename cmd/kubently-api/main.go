// Command kubently-api runs the control plane: the debug REST API (C6),
// the agent protocol binding (C7), the executor stream endpoint and result
// sink (C4/C5), and the auth module (C8). Grounded on the teacher's
// cmd/devopsclaw cobra-based entrypoint, with the route assembly itself
// following _examples/wisbric-nightowl's internal/httpserver.NewServer
// (global middleware chain, health endpoints, promhttp /metrics, a
// dedicated authenticated sub-router).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kubently/kubently/pkg/a2a"
	"github.com/kubently/kubently/pkg/audit"
	"github.com/kubently/kubently/pkg/auth"
	"github.com/kubently/kubently/pkg/config"
	"github.com/kubently/kubently/pkg/dispatcher"
	"github.com/kubently/kubently/pkg/executorapi"
	"github.com/kubently/kubently/pkg/logging"
	"github.com/kubently/kubently/pkg/observability"
	"github.com/kubently/kubently/pkg/queue"
	"github.com/kubently/kubently/pkg/resilience"
	"github.com/kubently/kubently/pkg/session"
	"github.com/kubently/kubently/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kubently-api",
		Short:         "Kubently control plane: session manager, command queue, debug API, and agent protocol binding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (%s)", gitCommit)
			}
			fmt.Println("kubently-api", v)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	rdb, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("build redis store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis unreachable at startup: %w", err)
	}
	defer rdb.Close()

	sessions := session.NewManager(rdb)
	q := queue.New(rdb, logger)
	q.SetMaxDepth(int64(cfg.MaxQueueDepth))

	execHandler := executorapi.NewHandler(q, logger, serverID(), cfg.InFlightWindow)
	disp := dispatcher.New(sessions, q, logger, execHandler.ConnectedClusters)

	ctxStore := a2a.NewContextStore(rdb)
	a2aHandler := a2a.NewHandler(ctxStore, a2a.StubReasoner{}, a2a.NewQueueDispatcher(q), logger)

	var apiKeys *auth.APIKeyValidator
	if cfg.APIKeyFile != "" {
		apiKeys, err = auth.LoadAPIKeyFile(cfg.APIKeyFile)
		if err != nil {
			return fmt.Errorf("load api key file: %w", err)
		}
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuer != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return fmt.Errorf("configure oidc authenticator: %w", err)
		}
	}

	metricsReg := prometheus.NewRegistry()
	metrics := observability.New(metricsReg)
	execHandler.SetMetrics(metrics)
	disp.SetMetrics(metrics)
	a2aHandler.SetMetrics(metrics)

	auditDir := os.Getenv("KUBENTLY_AUDIT_DIR")
	if auditDir == "" {
		auditDir = "/var/lib/kubently/audit"
	}
	auditStore := audit.NewFileStore(auditDir)

	skip := auth.SkipList{
		"/health":                    {"*": true},
		"/healthz":                   {"*": true},
		"/metrics":                   {"*": true},
		"/.well-known/kubently-auth": {"*": true},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(rateLimitMiddleware(resilience.NewRateLimiterRegistry(20, 40)))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Cluster-ID", "X-Client-Info", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	r.Get("/.well-known/kubently-auth", auth.DiscoveryHandler(auth.DeviceAuthDocument{
		Issuer:                 cfg.OIDCIssuer,
		DeviceAuthorizationURL: cfg.DeviceAuthURL,
		TokenURL:               cfg.DeviceTokenURL,
	}))

	disp.SetAuditStore(auditStore)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(apiKeys, oidcAuth, skip, logger, metrics))

		disp.Routes(r)

		r.Get("/executor/stream", execHandler.Stream)
		r.Post("/executor/results", execHandler.Results)

		r.Post(cfg.A2APathPrefix, a2aHandler.ServeHTTP)
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StreamingDeadline + 30*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serverID uniquely tags this process for C4 connection registration; not
// currently surfaced beyond logging, but kept distinct so a future
// multi-replica deployment can trace which instance owned a connection.
func serverID() string {
	return "kubently-api-" + uuid.NewString()[:8]
}

// rateLimitMiddleware applies a per-remote-address token bucket ahead of
// authentication, so a single misbehaving client can't burn the control
// plane's connection budget before auth even runs.
func rateLimitMiddleware(registry *resilience.RateLimiterRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !registry.Get(host).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

