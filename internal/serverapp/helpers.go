package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/leopoldkristjansson/keystone/internal/access"
	"github.com/leopoldkristjansson/keystone/internal/config"
	"github.com/leopoldkristjansson/keystone/internal/graphqlapi"
	"github.com/leopoldkristjansson/keystone/internal/logging"
	"github.com/leopoldkristjansson/keystone/internal/middleware"
	"github.com/leopoldkristjansson/keystone/internal/mutation"
	"github.com/leopoldkristjansson/keystone/internal/observability"
	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/session"
	"github.com/leopoldkristjansson/keystone/internal/store/sqlstore"
)

const healthCheckTimeout = 5 * time.Second

func otelConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLP: observability.OTLPExporterConfig{
			Endpoint: cfg.Observability.OTLP.Endpoint,
			Protocol: cfg.Observability.OTLP.Protocol,
			Insecure: cfg.Observability.OTLP.Insecure,
			Timeout:  cfg.Observability.OTLP.Timeout,
		},
	}
}

// InitLogger builds the application logger, adding the OTLP export bridge
// when log exports are enabled.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Bool("insecure", cfg.Observability.OTLP.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, otelConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	if loggerProvider == nil {
		logger.Warn("log exports enabled but no OTLP endpoint configured")
		return logger, nil, nil
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.MutationMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	mutationMetrics, err := observability.InitMutationMetrics()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")
	return meterProvider, mutationMetrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Bool("insecure", cfg.Observability.OTLP.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(ctx, otelConfig(cfg))
	if err != nil {
		return nil, err
	}
	if tracerProvider == nil {
		logger.Warn("tracing enabled but no OTLP endpoint configured")
		return nil, nil
	}

	logger.Info("OpenTelemetry tracing initialized successfully")
	return tracerProvider, nil
}

func connectStore(cfg *config.Config, logger *logging.Logger) (*sqlstore.Store, interface{ Unregister() error }, error) {
	st, err := sqlstore.Open(cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(st.DB(), otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	return st, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", effectiveDatabase),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	// If timeout is 0, try once and fail immediately.
	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		time.Sleep(interval)

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildPipeline(reg *schema.Registry, st *sqlstore.Store, logger *logging.Logger, metrics *observability.MutationMetrics) *mutation.Pipeline {
	gate := access.NewGate(logger.Logger)
	return mutation.New(reg, st, gate, logger.Logger, metrics)
}

func buildGraphQLHandler(cfg *config.Config, reg *schema.Registry, pipe *mutation.Pipeline) (http.Handler, error) {
	graphqlSchema, err := graphqlapi.BuildSchema(reg, pipe)
	if err != nil {
		return nil, err
	}

	return handler.New(&handler.Config{
		Schema:     &graphqlSchema,
		Pretty:     true,
		GraphiQL:   cfg.Server.GraphiQLEnabled,
		Playground: false,
	}), nil
}

func buildAuthenticators(ctx context.Context, cfg *config.Config, logger *logging.Logger) (middleware.Authenticators, error) {
	auth := middleware.Authenticators{}

	if cfg.Session.Secret != "" {
		tokens, err := session.NewTokenService(cfg.Session.Secret, cfg.Session.TokenLifetime)
		if err != nil {
			return auth, err
		}
		auth.Tokens = tokens
		logger.Info("admin token verification enabled")
	}

	if cfg.Session.OIDCEnabled {
		verifier, err := session.NewOIDCVerifier(ctx, session.OIDCConfig{
			IssuerURL: cfg.Session.OIDCIssuerURL,
			Audience:  cfg.Session.OIDCAudience,
			ClockSkew: cfg.Session.OIDCClockSkew,
		})
		if err != nil {
			return auth, err
		}
		auth.OIDC = verifier
		logger.Info("OIDC verification enabled", slog.String("issuer", cfg.Session.OIDCIssuerURL))
	}

	return auth, nil
}

// wrapGraphQLHandler applies the request middleware specific to the
// GraphQL endpoint: session resolution, then the per-request write
// boundary for mutation documents.
func wrapGraphQLHandler(auth middleware.Authenticators, graphqlHandler http.Handler) http.Handler {
	wrapped := middleware.WriteBoundaryMiddleware()(graphqlHandler)
	return middleware.SessionMiddleware(auth)(wrapped)
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/health", healthHandler(db, healthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/graphql", "/health", "/metrics":
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// healthHandler returns an HTTP handler for health checks.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Generic message to avoid leaking internal details
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
