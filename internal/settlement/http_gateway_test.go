package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/core/domain"
)

func TestHTTPGateway_Authorize(t *testing.T) {
	var gotKey string
	var gotBody domain.SettlementRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		switch gotBody.Token {
		case "pm_decline":
			w.WriteHeader(http.StatusPaymentRequired)
		case "pm_slow":
			w.WriteHeader(http.StatusGatewayTimeout)
		case "pm_broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"outcome": "approved"})
		}
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL)
	ctx := context.Background()

	outcome, err := gw.Authorize(ctx, testRequest("12.34"))
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementApproved, outcome)
	assert.Equal(t, "idem-1", gotKey)
	assert.True(t, gotBody.Amount.Equal(testRequest("12.34").Amount))

	req := testRequest("1")
	req.Token = "pm_decline"
	outcome, err = gw.Authorize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementDeclined, outcome)

	req.Token = "pm_slow"
	outcome, err = gw.Authorize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementTimeout, outcome)

	req.Token = "pm_broken"
	_, err = gw.Authorize(ctx, req)
	assert.ErrorIs(t, err, domain.ErrSettlementUnavailable)
}

func TestHTTPGateway_DeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	outcome, err := NewHTTPGateway(srv.URL).Authorize(ctx, testRequest("1"))
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementTimeout, outcome)
}
