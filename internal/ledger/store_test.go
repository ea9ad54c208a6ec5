package ledger

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
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/adapters/storage/memory"
	"policy-billing-engine/internal/core/domain"
)

var t0 = time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newCharge(id, customer string, status domain.ChargeStatus, amount string, at time.Time) domain.Charge {
	return domain.Charge{
		ID:             id,
		CustomerID:     customer,
		PaymentToken:   "pm_test",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		Status:         status,
		IdempotencyKey: "key-" + id,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

type failingRepo struct {
	*memory.Repository
	fail bool
}

func (f *failingRepo) AppendCharge(ctx context.Context, c domain.Charge, a []domain.FraudAlert) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Repository.AppendCharge(ctx, c, a)
}

func TestStore_AppendAndWindow(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())
	ctx := context.Background()

	err := s.Do(ctx, "cust-1", func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.AppendCharge(ctx, newCharge("c1", "cust-1", domain.ChargeStatusFailed, "10", t0), nil))
		require.NoError(t, tx.AppendCharge(ctx, newCharge("c2", "cust-1", domain.ChargeStatusSuccess, "20", t0.Add(2*time.Hour)), []domain.FraudAlert{
			{ID: "a1", CustomerID: "cust-1", TransactionRef: "c2", Severity: domain.SeverityMedium, RuleTriggered: domain.RuleLargeAmount, CreatedAt: t0.Add(2 * time.Hour)},
		}))
		return nil
	})
	require.NoError(t, err)

	window, err := s.Window(ctx, "cust-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "c2", window[0].Charge.ID)

	all, err := s.Window(ctx, "cust-1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Snapshots are copies.
	all[0].Charge.Status = domain.ChargeStatusRefunded
	c, err := s.GetCharge(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChargeStatusFailed, c.Status)

	_ = s.Do(ctx, "cust-1", func(_ context.Context, tx *Tx) error {
		got, ok := tx.ChargeByIdempotencyKey("key-c2")
		assert.True(t, ok)
		assert.Equal(t, "c2", got.ID)
		assert.Len(t, tx.Alerts("c2"), 1)
		return nil
	})
}

func TestStore_RejectsNonFinalAndDuplicateCharges(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())
	err := s.Do(context.Background(), "cust-1", func(ctx context.Context, tx *Tx) error {
		pending := newCharge("c1", "cust-1", domain.ChargeStatusPending, "10", t0)
		assert.ErrorIs(t, tx.AppendCharge(ctx, pending, nil), domain.ErrInvalidRequest)

		ok := newCharge("c1", "cust-1", domain.ChargeStatusSuccess, "10", t0)
		require.NoError(t, tx.AppendCharge(ctx, ok, nil))
		assert.ErrorIs(t, tx.AppendCharge(ctx, ok, nil), domain.ErrInvalidRequest)

		foreign := newCharge("c9", "cust-2", domain.ChargeStatusSuccess, "10", t0)
		assert.ErrorIs(t, tx.AppendCharge(ctx, foreign, nil), domain.ErrInvalidRequest)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_StorageFailureLeavesLedgerUntouched(t *testing.T) {
	repo := &failingRepo{Repository: memory.NewRepository(), fail: true}
	s := NewStore(repo, discardLogger())

	err := s.Do(context.Background(), "cust-1", func(ctx context.Context, tx *Tx) error {
		return tx.AppendCharge(ctx, newCharge("c1", "cust-1", domain.ChargeStatusSuccess, "10", t0), nil)
	})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	window, err := s.Window(context.Background(), "cust-1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, window)
}

func TestStore_AppendRefundGuardsInvariant(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())
	ctx := context.Background()

	err := s.Do(ctx, "cust-1", func(ctx context.Context, tx *Tx) error {
		charge := newCharge("c1", "cust-1", domain.ChargeStatusSuccess, "100", t0)
		require.NoError(t, tx.AppendCharge(ctx, charge, nil))

		over := domain.RefundRecord{ID: "r0", ChargeRef: "c1", CustomerID: "cust-1", Amount: decimal.NewFromInt(101), CreatedAt: t0}
		updated := charge
		updated.RefundedAmount = decimal.NewFromInt(101)
		updated.Status = domain.ChargeStatusRefunded
		assert.ErrorIs(t, tx.AppendRefund(ctx, over, updated), &domain.RefundError{Code: domain.RefundExceedsBalance})

		partial := domain.RefundRecord{ID: "r1", ChargeRef: "c1", CustomerID: "cust-1", Amount: decimal.NewFromInt(40), CreatedAt: t0.Add(time.Minute)}
		updated = charge
		updated.RefundedAmount = decimal.NewFromInt(40)
		updated.Status = domain.ChargeStatusPartiallyRefunded
		require.NoError(t, tx.AppendRefund(ctx, partial, updated))

		got, _ := tx.Charge("c1")
		assert.Equal(t, domain.ChargeStatusPartiallyRefunded, got.Status)
		assert.True(t, got.Remaining().Equal(decimal.NewFromInt(60)))

		backwards := got
		backwards.Status = domain.ChargeStatusSuccess
		backwards.RefundedAmount = decimal.NewFromInt(50)
		r2 := domain.RefundRecord{ID: "r2", ChargeRef: "c1", CustomerID: "cust-1", Amount: decimal.NewFromInt(10), CreatedAt: t0}
		assert.ErrorIs(t, tx.AppendRefund(ctx, r2, backwards), &domain.RefundError{Code: domain.RefundInvalidState})
		return nil
	})
	require.NoError(t, err)

	window, err := s.Window(ctx, "cust-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, domain.EntryRefund, window[1].Kind)
}

func TestStore_HydratesFromRepository(t *testing.T) {
	repo := memory.NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.AppendCharge(ctx, newCharge("c1", "cust-1", domain.ChargeStatusSuccess, "50", t0), nil))
	require.NoError(t, repo.AppendCharge(ctx, newCharge("c2", "cust-1", domain.ChargeStatusFailed, "5", t0.Add(time.Minute)), nil))

	s := NewStore(repo, discardLogger())

	owner, err := s.CustomerOf(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", owner)

	window, err := s.Window(ctx, "cust-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "c1", window[0].Charge.ID)

	_, err = s.GetCharge(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrChargeNotFound)
}

func TestStore_CancelledBeforeLockHasNoEffect(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "cust-1", func(context.Context, *Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := s.Do(ctx, "cust-1", func(context.Context, *Tx) error {
		ran.Store(true)
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestStore_DetachesFromCallerAfterLock(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Do(ctx, "cust-1", func(inner context.Context, _ *Tx) error {
		cancel()
		assert.NoError(t, inner.Err())
		return nil
	})
	assert.NoError(t, err)
}

func TestStore_SerializesPerCustomerOnly(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger())

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "cust-1", func(context.Context, *Tx) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())

	// A different customer proceeds while cust-1 is held.
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "cust-1", func(context.Context, *Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Do(ctx, "cust-2", func(context.Context, *Tx) error { return nil })
	close(release)
	assert.NoError(t, err)
}

func TestStore_LockTimeout(t *testing.T) {
	s := NewStore(memory.NewRepository(), discardLogger(), WithLockTimeout(10*time.Millisecond))

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "cust-1", func(context.Context, *Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := s.Do(context.Background(), "cust-1", func(context.Context, *Tx) error { return nil })
	close(release)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
