package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/errors"
	"github.com/go-oauth2/oauth2/v4/manage"
	"github.com/go-oauth2/oauth2/v4/models"
	"github.com/go-oauth2/oauth2/v4/server"
	"github.com/go-oauth2/oauth2/v4/store"
	"github.com/golang-jwt/jwt/v5"

	"policy-billing-engine/internal/config"
)

// NewAuthorizationServer creates an OAuth 2.0 server issuing client-credentials
// tokens to the configured machine clients. Access tokens are HS256 JWTs
// carrying the client's roles, so the API's JWT middleware and OPA can use them directly.
func NewAuthorizationServer(jwtSecret string, clients []config.OAuthClient, logger *slog.Logger) (*server.Server, error) {
	manager := manage.NewDefaultManager()
	manager.MustTokenStorage(store.NewMemoryTokenStore())

	clientStore := store.NewClientStore()
	roles := make(map[string][]string, len(clients))
	for _, c := range clients {
		if c.ID == "" || c.Secret == "" {
			return nil, fmt.Errorf("oauth client requires id and secret")
		}
		if err := clientStore.Set(c.ID, &models.Client{ID: c.ID, Secret: c.Secret, Domain: c.Domain}); err != nil {
			return nil, fmt.Errorf("failed to set client %s in store: %w", c.ID, err)
		}
		roles[c.ID] = c.Roles
	}
	manager.MapClientStorage(clientStore)
	manager.MapAccessGenerate(&roleJWTGenerate{key: []byte(jwtSecret), roles: roles})

	srv := server.NewServer(server.NewConfig(), manager)
	srv.SetAllowedGrantType(oauth2.ClientCredentials)
	srv.SetClientInfoHandler(server.ClientFormHandler)

	srv.SetInternalErrorHandler(func(err error) (re *errors.Response) {
		logger.Error("internal OAuth2 server error", "error", err)
		return
	})

	logger.Info("OAuth 2.0 server configured", "clients", len(clients))
	return srv, nil
}

// roleJWTGenerate signs access tokens with the client id as subject and its roles as a claim.
type roleJWTGenerate struct {
	key   []byte
	roles map[string][]string
}

func (g *roleJWTGenerate) Token(_ context.Context, data *oauth2.GenerateBasic, _ bool) (string, string, error) {
	clientID := data.Client.GetID()
	createdAt := data.TokenInfo.GetAccessCreateAt()
	claims := jwt.MapClaims{
		"sub":   clientID,
		"aud":   clientID,
		"roles": g.roles[clientID],
		"iat":   createdAt.Unix(),
		"exp":   createdAt.Add(data.TokenInfo.GetAccessExpiresIn()).Unix(),
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return access, "", nil
}
