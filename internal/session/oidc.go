package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig controls bearer token validation against an external issuer.
type OIDCConfig struct {
	IssuerURL string
	Audience  string
	ClockSkew time.Duration
}

// OIDCVerifier validates bearer tokens via OIDC discovery and JWKS.
type OIDCVerifier struct {
	issuer   string
	skew     time.Duration
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and prepares a token verifier.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc issuer and audience are required")
	}
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}

	return &OIDCVerifier{
		issuer: cfg.IssuerURL,
		skew:   cfg.ClockSkew,
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.Audience,
		}),
	}, nil
}

// Verify validates a bearer token and returns the caller's identity.
func (v *OIDCVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("invalid token claims: %w", err)
	}
	if err := validateTimeClaims(claims, v.skew); err != nil {
		return nil, err
	}

	subject, _ := claims["sub"].(string)
	return &Identity{
		Subject: subject,
		Issuer:  v.issuer,
		Claims:  claims,
	}, nil
}

func validateTimeClaims(claims map[string]any, skew time.Duration) error {
	if skew <= 0 {
		return nil
	}

	now := time.Now()
	if exp, ok := numericDate(claims["exp"]); ok {
		if now.After(exp.Add(skew)) {
			return errors.New("token expired")
		}
	}
	if nbf, ok := numericDate(claims["nbf"]); ok {
		if now.Add(skew).Before(nbf) {
			return errors.New("token not valid yet")
		}
	}
	return nil
}

func numericDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	default:
		return time.Time{}, false
	}
}
