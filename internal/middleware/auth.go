package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/leopoldkristjansson/keystone/internal/logging"
	"github.com/leopoldkristjansson/keystone/internal/session"
)

// Authenticators holds the configured token sources. Either may be nil.
type Authenticators struct {
	Tokens *session.TokenService
	OIDC   *session.OIDCVerifier
}

// SessionMiddleware resolves the caller's identity from the Authorization
// header and stores it on the context. Requests without a bearer token
// proceed anonymously; access control decides what anonymous callers may
// do. A token that is present but invalid is rejected.
func SessionMiddleware(auth Authenticators) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := session.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := verifyToken(r, auth, token)
			if err != nil {
				reqLogger := logging.FromContext(r.Context())
				reqLogger.Warn("session token validation failed",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := session.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyToken(r *http.Request, auth Authenticators, token string) (*session.Identity, error) {
	var lastErr error
	if auth.Tokens != nil {
		id, err := auth.Tokens.Verify(token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if auth.OIDC != nil {
		id, err := auth.OIDC.Verify(r.Context(), token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no token verifier configured")
	}
	return nil, lastErr
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}
