package http

import "context"

// contextKey is a typed key for request context values.
type contextKey string

// claimsContextKey stores JWT or OIDC claims for the authorization layer.
const claimsContextKey contextKey = "claims"

// WithClaims attaches token claims to ctx.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the claims stored by the JWT or OIDC middleware.
func ClaimsFromContext(ctx context.Context) (map[string]any, bool) {
	claims, ok := ctx.Value(claimsContextKey).(map[string]any)
	return claims, ok
}
