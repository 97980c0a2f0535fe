package store

import "context"

// WriteLimiter serializes conflicting writes within one request scope. At
// most one acquire is in flight at a time; additional callers queue rather
// than fail. A limiter is never shared across requests.
type WriteLimiter struct {
	sem chan struct{}
}

// NewWriteLimiter returns a limiter with a single write slot.
func NewWriteLimiter() *WriteLimiter {
	return &WriteLimiter{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the write slot is free or ctx is done.
func (l *WriteLimiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the write slot. Calling Release without a matching
// Acquire is a programming error and panics.
func (l *WriteLimiter) Release() {
	select {
	case <-l.sem:
	default:
		panic("store: WriteLimiter.Release without Acquire")
	}
}

type limiterKey struct{}

// WithWriteLimiter installs a request-scoped limiter on the context.
func WithWriteLimiter(ctx context.Context, l *WriteLimiter) context.Context {
	return context.WithValue(ctx, limiterKey{}, l)
}

// WriteLimiterFromContext returns the request's limiter, or nil.
func WriteLimiterFromContext(ctx context.Context) *WriteLimiter {
	l, _ := ctx.Value(limiterKey{}).(*WriteLimiter)
	return l
}
