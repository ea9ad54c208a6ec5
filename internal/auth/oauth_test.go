package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/config"
)

func tokenRequest(t *testing.T, srvHandler http.HandlerFunc, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srvHandler(rec, req)
	return rec
}

func TestAuthorizationServer_ClientCredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewAuthorizationServer("secret", []config.OAuthClient{
		{ID: "billing-pipeline", Secret: "s3cret", Domain: "http://localhost", Roles: []string{"service"}},
	}, logger)
	require.NoError(t, err)

	handler := func(w http.ResponseWriter, r *http.Request) { _ = srv.HandleTokenRequest(w, r) }

	rec := tokenRequest(t, handler, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"billing-pipeline"},
		"client_secret": {"s3cret"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	token, err := jwt.Parse(body.AccessToken, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "billing-pipeline", claims["sub"])
	assert.Equal(t, []any{"service"}, claims["roles"])

	rec = tokenRequest(t, handler, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"billing-pipeline"},
		"client_secret": {"wrong"},
	})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestAuthorizationServer_RejectsIncompleteClient(t *testing.T) {
	_, err := NewAuthorizationServer("secret", []config.OAuthClient{{ID: "x"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
