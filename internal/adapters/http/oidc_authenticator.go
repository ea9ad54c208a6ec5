package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies ID tokens issued to back-office users.
type OIDCAuthenticator struct {
	Verifier *oidc.IDTokenVerifier
	logger   *slog.Logger
}

// NewOIDCAuthenticator connects to the OIDC provider (Keycloak) and creates an authenticator.
func NewOIDCAuthenticator(ctx context.Context, providerURL, clientID string, logger *slog.Logger) (*OIDCAuthenticator, error) {
	if providerURL == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC URL and ClientID cannot be empty")
	}

	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &OIDCAuthenticator{Verifier: verifier, logger: logger}, nil
}

// Middleware - This is an HTTP middleware for token verification.
func (a *OIDCAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, problem := bearerToken(r)
		if problem != "" {
			writeJSONError(w, problem, http.StatusUnauthorized, a.logger)
			return
		}

		idToken, err := a.Verifier.Verify(r.Context(), rawToken)
		if err != nil {
			a.logger.Warn("OIDC token rejected", "error", err)
			writeJSONError(w, "Invalid token", http.StatusUnauthorized, a.logger)
			return
		}

		var claims map[string]any
		if err := idToken.Claims(&claims); err != nil {
			writeJSONError(w, "Failed to extract claims", http.StatusInternalServerError, a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
