// Package serverapp owns the server lifecycle: resource initialization
// in dependency order, HTTP serving, and LIFO teardown.
package serverapp

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/leopoldkristjansson/keystone/internal/config"
	"github.com/leopoldkristjansson/keystone/internal/logging"
	"github.com/leopoldkristjansson/keystone/internal/mutation"
	"github.com/leopoldkristjansson/keystone/internal/observability"
	"github.com/leopoldkristjansson/keystone/internal/schema"
	"github.com/leopoldkristjansson/keystone/internal/store/sqlstore"
)

// App owns runtime resources for the keystone server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	reg    *schema.Registry

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	dsnPresent        bool

	meterProvider   *observability.MeterProvider
	mutationMetrics *observability.MutationMetrics
	tracerProvider  *observability.TracerProvider

	st         *sqlstore.Store
	dbStatsReg interface{ Unregister() error }

	pipeline *mutation.Pipeline

	graphqlHandler http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server

	cleanup teardown

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper for the given list registry.
func New(cfg *config.Config, logger *logging.Logger, reg *schema.Registry) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		reg:               reg,
		effectiveDatabase: effectiveDatabase,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Pipeline exposes the mutation pipeline. It is nil before Init.
func (a *App) Pipeline() *mutation.Pipeline {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.pipeline
}

// Handler exposes the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
