package serverapp

import (
	"context"
	"log/slog"

	"github.com/leopoldkristjansson/keystone/internal/logging"
)

// teardown releases acquired resources in reverse order of acquisition:
// the HTTP server stops before the store closes, and the store closes
// before the telemetry providers flush.
type teardown struct {
	steps []teardownStep
}

type teardownStep struct {
	name string
	fn   func(context.Context) error
}

func (t *teardown) add(name string, fn func(context.Context) error) {
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

// unwind runs every step even when one fails; a failed release is
// logged and the remaining resources still get their turn.
func (t *teardown) unwind(ctx context.Context, logger *logging.Logger) {
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if logger != nil {
			logger.Info("releasing " + step.name)
		}
		if err := step.fn(ctx); err != nil && logger != nil {
			logger.Warn("teardown step failed",
				slog.String("resource", step.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Shutdown unwinds every resource Init acquired. It is safe to call
// multiple times; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		cleanup.unwind(ctx, a.logger)
		if a.logger != nil {
			a.logger.Info("shutdown complete")
		}
	})

	return nil
}
