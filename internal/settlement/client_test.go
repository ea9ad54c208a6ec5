package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/core/domain"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.SettlementOutcome), args.Error(1)
}

func testConfig() config.SettlementConfig {
	cfg := config.Default().Settlement
	cfg.InitialBackoffMs = 1
	cfg.MaxBackoffMs = 2
	cfg.TimeoutMs = 200
	return cfg
}

func testRequest(amount string) domain.SettlementRequest {
	return domain.SettlementRequest{
		TransactionID:  "tx-1",
		Token:          "pm_1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		IdempotencyKey: "idem-1",
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestClient_ApprovedFirstTry(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Authorize", mock.Anything, testRequest("10")).Return(domain.SettlementApproved, nil).Once()

	c := NewClient(gw, testConfig(), discardLogger())
	outcome, attempts, err := c.Settle(context.Background(), testRequest("10"))

	require.NoError(t, err)
	assert.Equal(t, domain.SettlementApproved, outcome)
	assert.Equal(t, 1, attempts)
	gw.AssertExpectations(t)
}

func TestClient_DeclineIsNotRetried(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Authorize", mock.Anything, mock.Anything).Return(domain.SettlementDeclined, nil).Once()

	c := NewClient(gw, testConfig(), discardLogger())
	outcome, attempts, err := c.Settle(context.Background(), testRequest("10"))

	require.NoError(t, err)
	assert.Equal(t, domain.SettlementDeclined, outcome)
	assert.Equal(t, 1, attempts)
	gw.AssertNumberOfCalls(t, "Authorize", 1)
}

func TestClient_RetriesTimeoutWithSameKey(t *testing.T) {
	gw := new(MockGateway)
	req := testRequest("10")
	gw.On("Authorize", mock.Anything, req).Return(domain.SettlementTimeout, nil).Once()
	gw.On("Authorize", mock.Anything, req).Return(domain.SettlementOutcome(""), errors.New("connection reset")).Once()
	gw.On("Authorize", mock.Anything, req).Return(domain.SettlementApproved, nil).Once()

	c := NewClient(gw, testConfig(), discardLogger())
	outcome, attempts, err := c.Settle(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, domain.SettlementApproved, outcome)
	assert.Equal(t, 3, attempts)
	gw.AssertExpectations(t)
}

func TestClient_ExhaustedRetries(t *testing.T) {
	gw := new(MockGateway)
	gw.On("Authorize", mock.Anything, mock.Anything).Return(domain.SettlementTimeout, nil)

	c := NewClient(gw, testConfig(), discardLogger())
	outcome, attempts, err := c.Settle(context.Background(), testRequest("10"))

	assert.Equal(t, domain.SettlementTimeout, outcome)
	assert.Equal(t, 3, attempts)
	var timeoutErr *domain.GatewayTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "tx-1", timeoutErr.TransactionID)
	assert.Equal(t, 3, timeoutErr.Attempts)
	gw.AssertNumberOfCalls(t, "Authorize", 3)
}

type blockingGateway struct {
	inFlight, peak atomic.Int32
}

func (g *blockingGateway) Authorize(ctx context.Context, _ domain.SettlementRequest) (domain.SettlementOutcome, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return domain.SettlementApproved, nil
}

func TestClient_PoolBoundsConcurrency(t *testing.T) {
	gw := &blockingGateway{}
	cfg := testConfig()
	cfg.PoolSize = 2
	c := NewClient(gw, cfg, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Settle(context.Background(), testRequest("10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, gw.peak.Load(), int32(2))
}

func TestStub_SandboxDecisionAndDedup(t *testing.T) {
	s := NewStub(nil)
	ctx := context.Background()

	got, err := s.Authorize(ctx, testRequest("10.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementApproved, got)

	declined := testRequest("10.51")
	declined.IdempotencyKey = "idem-2"
	got, _ = s.Authorize(ctx, declined)
	assert.Equal(t, domain.SettlementDeclined, got)

	timeout := testRequest("10.52")
	timeout.IdempotencyKey = "idem-3"
	got, _ = s.Authorize(ctx, timeout)
	assert.Equal(t, domain.SettlementTimeout, got)

	// A replayed key returns the recorded verdict even if the amount changed.
	replay := testRequest("10.51")
	got, _ = s.Authorize(ctx, replay)
	assert.Equal(t, domain.SettlementApproved, got)
	assert.Equal(t, 2, s.Calls("idem-1"))
	assert.Equal(t, 2, s.Settled())
}
