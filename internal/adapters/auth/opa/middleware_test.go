package opa

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type claimsKey struct{}

func claimsFromTestContext(ctx context.Context) (map[string]any, bool) {
	c, ok := ctx.Value(claimsKey{}).(map[string]any)
	return c, ok
}

// fakeOPA allows admins everywhere and services outside /admin.
func fakeOPA(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input OPAInput `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		role, _ := body.Input.User["role"].(string)
		allow := role == "admin" || (role == "service" && len(body.Input.Path) > 2 && body.Input.Path[2] != "admin")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"allow": allow}})
	}))
}

func TestMiddleware_Authorize(t *testing.T) {
	opa := fakeOPA(t)
	defer opa.Close()

	m := NewMiddleware(opa.URL, claimsFromTestContext, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := m.Authorize(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	tests := []struct {
		name   string
		claims map[string]any
		path   string
		want   int
	}{
		{"no claims", nil, "/api/v1/charges", http.StatusUnauthorized},
		{"service on charges", map[string]any{"role": "service"}, "/api/v1/charges", http.StatusOK},
		{"service on admin", map[string]any{"role": "service"}, "/api/v1/admin/fraud-alerts", http.StatusForbidden},
		{"admin on admin", map[string]any{"role": "admin"}, "/api/v1/admin/fraud-alerts", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.claims != nil {
				req = req.WithContext(context.WithValue(req.Context(), claimsKey{}, tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMiddleware_OPAUnavailable(t *testing.T) {
	opa := fakeOPA(t)
	opa.Close()

	m := NewMiddleware(opa.URL, claimsFromTestContext, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := m.Authorize(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/charges", nil)
	req = req.WithContext(context.WithValue(req.Context(), claimsKey{}, map[string]any{"role": "admin"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
