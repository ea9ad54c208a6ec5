package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ClaimsFunc extracts the authenticated caller's claims from a request context.
type ClaimsFunc func(ctx context.Context) (map[string]any, bool)

// Middleware for authorization via OPA.
type Middleware struct {
	opaURL string
	claims ClaimsFunc
	logger *slog.Logger
	client *http.Client
}

// NewMiddleware creates a new OPA middleware.
func NewMiddleware(opaURL string, claims ClaimsFunc, logger *slog.Logger) *Middleware {
	return &Middleware{
		opaURL: opaURL,
		claims: claims,
		logger: logger,
		client: &http.Client{Timeout: 500 * time.Millisecond},
	}
}

// OPAInput - structure for querying OPA.
type OPAInput struct {
	Method string         `json:"method"`
	Path   []string       `json:"path"`
	User   map[string]any `json:"user"`
}

// OPAResponse - structure for response from OPA's data API.
type OPAResponse struct {
	Result struct {
		Allow bool `json:"allow"`
	} `json:"result"`
}

// Authorize is an HTTP middleware that performs permissions checking.
// Path is sent split into segments, e.g. ["api","v1","charges","tx-1","refunds"].
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.claims(r.Context())
		if !ok {
			m.writeError(w, "Claims not found in context", http.StatusUnauthorized)
			return
		}

		input := OPAInput{
			Method: r.Method,
			Path:   strings.Split(strings.Trim(r.URL.Path, "/"), "/"),
			User:   claims,
		}

		inputBytes, err := json.Marshal(map[string]any{"input": input})
		if err != nil {
			m.logger.Error("failed to build OPA input", "error", err)
			m.writeError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// The URL typically looks like http://opa:8181/v1/data/billing/authz
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, m.opaURL, bytes.NewReader(inputBytes))
		if err != nil {
			m.logger.Error("failed to create OPA request", "error", err)
			m.writeError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			m.logger.Error("error accessing OPA", "error", err)
			m.writeError(w, "Authorization service unavailable", http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		var opaResp OPAResponse
		if err := json.NewDecoder(resp.Body).Decode(&opaResp); err != nil {
			m.logger.Error("unable to decode OPA response", "error", err)
			m.writeError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !opaResp.Result.Allow {
			m.logger.Info("request denied by policy", "method", r.Method, "path", r.URL.Path, "sub", claims["sub"])
			m.writeError(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		m.logger.Error("failed to write JSON error response", "error", err)
	}
}
