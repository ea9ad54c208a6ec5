package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
	"policy-billing-engine/internal/observability"
)

var errAttemptTimedOut = errors.New("settlement attempt timed out")

// Client talks to the settlement gateway through a bounded connection pool
// and retries transient failures with the same idempotency key.
type Client struct {
	gateway ports.SettlementGateway
	pool    *semaphore.Weighted
	cfg     config.SettlementConfig
	logger  *slog.Logger
}

func NewClient(gateway ports.SettlementGateway, cfg config.SettlementConfig, logger *slog.Logger) *Client {
	return &Client{
		gateway: gateway,
		pool:    semaphore.NewWeighted(int64(cfg.PoolSize)),
		cfg:     cfg,
		logger:  logger,
	}
}

// Settle returns the final outcome and the number of attempts made.
// Declines are final on the first attempt. When every attempt times out the
// outcome is SettlementTimeout and the error is a *domain.GatewayTimeoutError.
func (c *Client) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, int, error) {
	attempts := 0
	operation := func() (domain.SettlementOutcome, error) {
		attempts++
		return c.attempt(ctx, req)
	}

	outcome, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("settlement attempt failed, retrying",
				"transaction_id", req.TransactionID, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return domain.SettlementTimeout, attempts, &domain.GatewayTimeoutError{
			TransactionID: req.TransactionID,
			Attempts:      attempts,
			Err:           err,
		}
	}
	return outcome, attempts, nil
}

func (c *Client) attempt(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error) {
	waitStart := time.Now()
	if err := c.pool.Acquire(ctx, 1); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err))
	}
	defer c.pool.Release(1)
	observability.SettlementPoolWait.Observe(time.Since(waitStart).Seconds())

	callCtx := ctx
	if timeout := c.cfg.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcome, err := c.gateway.Authorize(callCtx, req)
	switch {
	case err != nil:
		observability.SettlementAttemptsTotal.WithLabelValues("error").Inc()
		return "", err
	case outcome == domain.SettlementTimeout:
		observability.SettlementAttemptsTotal.WithLabelValues(string(outcome)).Inc()
		return "", errAttemptTimedOut
	case outcome == domain.SettlementApproved, outcome == domain.SettlementDeclined:
		observability.SettlementAttemptsTotal.WithLabelValues(string(outcome)).Inc()
		return outcome, nil
	default:
		observability.SettlementAttemptsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("unexpected settlement outcome %q", outcome)
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if d := c.cfg.InitialBackoff(); d > 0 {
		b.InitialInterval = d
	}
	if d := c.cfg.MaxBackoff(); d > 0 {
		b.MaxInterval = d
	}
	return b
}
