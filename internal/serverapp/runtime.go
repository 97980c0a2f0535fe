package serverapp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

// Start launches the HTTP server goroutine and returns the channel that
// carries a fatal serve error. It requires Init to have completed;
// calling it again returns the same channel without spawning a second
// listener.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	a.serverErrors = make(chan error, 1)
	go a.serve(a.serverErrors)
	a.started = true
	return a.serverErrors, nil
}

// serve blocks on the listener and reports a fatal error on errs.
// A graceful Shutdown is not an error.
func (a *App) serve(errs chan<- error) {
	attrs := []any{
		slog.String("address", a.serverAddr),
		slog.String("graphql_endpoint", "/graphql"),
		slog.String("health_endpoint", "/health"),
	}
	if a.reg != nil {
		attrs = append(attrs, slog.Int("lists", len(a.reg.Keys())))
	}
	if a.cfg != nil {
		attrs = append(attrs,
			slog.Bool("graphiql_enabled", a.cfg.Server.GraphiQLEnabled),
			slog.String("log_level", a.cfg.Observability.Logging.Level),
			slog.String("log_format", a.cfg.Observability.Logging.Format),
		)
		if a.cfg.Observability.MetricsEnabled {
			attrs = append(attrs, slog.String("metrics_endpoint", "/metrics"))
		}
	}
	a.logger.Info("server starting", attrs...)

	if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("server failed: %w", err)
	}
}

// WaitForStop blocks until an OS signal arrives or the server reports a
// fatal error, whichever comes first. A nil serverErrors falls back to
// the channel Start produced; a nil channel simply never fires.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	select {
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return "signal", nil
	case err := <-serverErrors:
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", err
	}
}
