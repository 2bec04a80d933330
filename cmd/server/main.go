package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	encounterStore "phigate/internal/encounter/store"
	"phigate/internal/gateway"
	"phigate/internal/gateway/handler"
	gatewayMetrics "phigate/internal/gateway/metrics"
	jwttoken "phigate/internal/jwt_token"
	"phigate/internal/platform/config"
	"phigate/internal/platform/httpserver"
	"phigate/internal/platform/logger"
	"phigate/internal/platform/metrics"
	redisClient "phigate/internal/platform/redis"
	"phigate/pkg/platform/audit"
	"phigate/pkg/platform/audit/deadletter"
	auditMemory "phigate/pkg/platform/audit/store/memory"
	auditPostgres "phigate/pkg/platform/audit/store/postgres"
	"phigate/pkg/platform/audit/worker"
	"phigate/pkg/platform/httputil"
	"phigate/pkg/platform/middleware/auth"
	"phigate/pkg/platform/middleware/metadata"
	"phigate/pkg/platform/middleware/ratelimit"
	"phigate/pkg/platform/middleware/request"
	"phigate/pkg/platform/middleware/requesttime"
	"phigate/pkg/platform/redact"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "phigate:", err)
		os.Exit(1)
	}
}

type infra struct {
	auditStore   audit.Store
	records      gateway.RecordStore
	healthChecks map[string]func(context.Context) error
	closers      []func() error
}

func run() error {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	redactor := redact.New(redact.WithApprovedIdentifiers(cfg.ApprovedIDs...))
	log := logger.New(cfg.LogLevel, redactor)
	if cfg.UsesDevSigningKey() {
		log.Warn("using development JWT signing key")
	}
	logRedactionRules(log, len(cfg.ApprovedIDs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range deps.closers {
			_ = closeFn()
		}
	}()

	reg := prometheus.DefaultRegisterer
	dead := deadletter.NewRingBuffer(cfg.Audit.DeadLetterCapacity)
	auditLog := audit.New(deps.auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(reg)),
		audit.WithRedactor(redactor),
		audit.WithRetry(cfg.Audit.AppendAttempts, cfg.Audit.RetryBackoff),
		audit.WithCircuitBreaker(audit.NewCircuitBreaker(5, 30*time.Second)),
		audit.WithDeadLetter(dead),
	)

	deps.healthChecks["audit"] = auditLog.Health

	svc, err := gateway.New(deps.records, auditLog,
		gateway.WithLogger(log),
		gateway.WithMetrics(gatewayMetrics.New(reg)),
		gateway.WithRedactor(redactor),
	)
	if err != nil {
		return err
	}

	replayer := worker.NewWorker(auditLog,
		worker.WithInterval(cfg.Audit.ReplayInterval),
		worker.WithBatchSize(cfg.Audit.ReplayBatchSize),
		worker.WithLogger(log),
	)

	router := newRouter(cfg, log, svc, metrics.New(reg), deps.healthChecks)
	srv := httpserver.New(cfg.Addr, router, httpserver.WithErrorLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting phigate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := replayer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if n := replayer.Drain(shutdownCtx); n > 0 {
			log.Info("replayed dead-lettered audit events on shutdown", "count", n)
		}
		if remaining := dead.Len(); remaining > 0 {
			log.Error("CRITICAL: audit events left unpersisted at shutdown",
				"count", remaining,
				"dropped", dead.Dropped(),
			)
		}
		return nil
	})

	return g.Wait()
}

// buildInfra selects the Postgres audit store and Redis record store when
// configured, falling back to in-memory stores.
func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{healthChecks: map[string]func(context.Context) error{}}

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		store := auditPostgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		deps.auditStore = store
		deps.healthChecks["postgres"] = db.PingContext
		deps.closers = append(deps.closers, db.Close)
		log.Info("audit store: postgres")
	} else {
		deps.auditStore = auditMemory.NewInMemoryStore()
		log.Warn("audit store: in-memory, events are lost on restart")
	}

	rc, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		deps.records = encounterStore.NewRedis(rc.Client, rc.Key("enc"))
		deps.healthChecks["redis"] = rc.Health
		deps.closers = append(deps.closers, rc.Close)
		log.Info("record store: redis")
	} else {
		deps.records = encounterStore.NewInMemory()
		log.Info("record store: in-memory")
	}
	return deps, nil
}

func newRouter(cfg config.Server, log *slog.Logger, svc *gateway.Service, m *metrics.Metrics, checks map[string]func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(m.LatencyMiddleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", request.HeaderRequestID},
			ExposedHeaders: []string{request.HeaderRequestID, handler.HeaderAuditEventID, handler.HeaderAuditDegraded},
			MaxAge:         300,
		}))
	}

	r.Get("/health", healthHandler(checks))
	r.Handle("/metrics", promhttp.Handler())

	validator := jwttoken.NewPrincipalVerifier(jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, log))
		if cfg.RateLimit.RPS > 0 {
			r.Use(ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, ratelimit.WithLogger(log)).Middleware)
		}
		handler.New(svc, log).Register(r)
	})
	return r
}

// logRedactionRules records which rule set produced this process's output.
func logRedactionRules(log *slog.Logger, approvedIDs int) {
	rules := redact.Rules()
	names := make([]string, len(rules))
	for i, rule := range rules {
		names[i] = rule.Name
	}
	log.Info("redaction rules loaded",
		"field_set_version", redact.FieldSetVersion,
		"rules", names,
		"approved_identifiers", approvedIDs,
	)
}

func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = "unavailable"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httputil.WriteJSON(w, code, status)
	}
}
