package serverapp

import (
	"context"
	"fmt"
	"log/slog"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := teardown{}
	success := false
	defer func() {
		if !success {
			cleanup.unwind(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.add("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, mutationMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.add("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.add("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to MySQL",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.effectiveDatabase),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	st, dbStatsReg, err := connectStore(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.add("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return st.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, st.DB(), a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	pipeline := buildPipeline(a.reg, st, a.logger, mutationMetrics)

	graphqlHandler, err := buildGraphQLHandler(a.cfg, a.reg, pipeline)
	if err != nil {
		return fmt.Errorf("failed to initialize GraphQL handler: %w", err)
	}

	auth, err := buildAuthenticators(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session verifiers: %w", err)
	}
	graphqlHandler = wrapGraphQLHandler(auth, graphqlHandler)

	mux := buildRouter(a.cfg, a.logger, st.DB(), graphqlHandler, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	cleanup.add("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.mutationMetrics = mutationMetrics
	a.tracerProvider = tracerProvider
	a.st = st
	a.dbStatsReg = dbStatsReg
	a.pipeline = pipeline
	a.graphqlHandler = graphqlHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
