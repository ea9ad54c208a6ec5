package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"policy-billing-engine/internal/core/domain"
)

// HTTPGateway calls a remote settlement processor over JSON/HTTP.
type HTTPGateway struct {
	client *http.Client
	url    string
}

func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		// Deadlines come from the caller's context, one per attempt.
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		url:    url,
	}
}

type authorizeResponse struct {
	Outcome domain.SettlementOutcome `json:"outcome"`
}

// Authorize posts the request. 402 is a decline, 408 and 504 are timeouts;
// any other non-200 answer is returned as a transient error.
func (g *HTTPGateway) Authorize(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.SettlementTimeout, nil
		}
		return "", fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusPaymentRequired:
		return domain.SettlementDeclined, nil
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.SettlementTimeout, nil
	default:
		return "", fmt.Errorf("%w: unexpected status %s", domain.ErrSettlementUnavailable, resp.Status)
	}

	var out authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode settlement response: %w", err)
	}
	switch out.Outcome {
	case domain.SettlementApproved, domain.SettlementDeclined, domain.SettlementTimeout:
		return out.Outcome, nil
	default:
		return "", fmt.Errorf("unknown settlement outcome %q", out.Outcome)
	}
}
