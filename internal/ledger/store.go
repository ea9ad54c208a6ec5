// Package ledger owns every customer's ordered charge/refund history and is
// the serialization boundary of the billing engine.
//
// Each customer has its own one-slot lock. Operations on different customers
// never contend; operations on the same customer are linearized. A customer's
// ledger is hydrated from the repository the first time it is touched and kept
// write-through afterwards.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
)

// Store is the per-customer keyed ledger.
type Store struct {
	repo        ports.LedgerRepository
	logger      *slog.Logger
	lockTimeout time.Duration

	customers   sync.Map // customerID -> *customerLedger
	chargeOwner sync.Map // chargeID -> customerID
}

type customerLedger struct {
	sem    chan struct{}
	loaded bool

	entries       []entryRef
	charges       map[string]*domain.Charge
	refunds       map[string]*domain.RefundRecord
	alerts        map[string][]domain.FraudAlert // by transaction ref
	byIdempotency map[string]string
}

type entryRef struct {
	kind domain.EntryKind
	id   string
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long Do waits for a customer's lock.
// Zero waits for as long as the caller's context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore creates a store backed by repo.
func NewStore(repo ports.LedgerRepository, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{repo: repo, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ledgerFor(customerID string) *customerLedger {
	if v, ok := s.customers.Load(customerID); ok {
		return v.(*customerLedger)
	}
	v, _ := s.customers.LoadOrStore(customerID, &customerLedger{
		sem:           make(chan struct{}, 1),
		charges:       map[string]*domain.Charge{},
		refunds:       map[string]*domain.RefundRecord{},
		alerts:        map[string][]domain.FraudAlert{},
		byIdempotency: map[string]string{},
	})
	return v.(*customerLedger)
}

// Do runs fn inside the customer's exclusive section.
//
// ctx only bounds lock acquisition: a caller cancelling before the lock is
// held leaves no trace. Once held, fn receives a context detached from the
// caller's cancellation and runs to completion.
func (s *Store) Do(ctx context.Context, customerID string, fn func(ctx context.Context, tx *Tx) error) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	}
	cl := s.ledgerFor(customerID)
	if err := ctx.Err(); err != nil {
		return err
	}
	acquireCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	select {
	case cl.sem <- struct{}{}:
	case <-acquireCtx.Done():
		s.logger.Warn("gave up waiting for customer lock", "customer_id", customerID, "error", acquireCtx.Err())
		return acquireCtx.Err()
	}
	defer func() { <-cl.sem }()

	runCtx := context.WithoutCancel(ctx)
	if !cl.loaded {
		if err := s.hydrate(runCtx, customerID, cl); err != nil {
			return err
		}
	}
	return fn(runCtx, &Tx{store: s, customerID: customerID, cl: cl})
}

func (s *Store) hydrate(ctx context.Context, customerID string, cl *customerLedger) error {
	persisted, err := s.repo.LoadLedger(ctx, customerID)
	if err != nil {
		s.logger.Error("failed to load customer ledger", "customer_id", customerID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	type stamped struct {
		ref entryRef
		at  time.Time
	}
	var order []stamped
	for i := range persisted.Charges {
		c := persisted.Charges[i].Clone()
		cl.charges[c.ID] = &c
		if c.IdempotencyKey != "" {
			cl.byIdempotency[c.IdempotencyKey] = c.ID
		}
		s.chargeOwner.Store(c.ID, customerID)
		order = append(order, stamped{entryRef{domain.EntryCharge, c.ID}, c.CreatedAt})
	}
	for i := range persisted.Refunds {
		r := persisted.Refunds[i]
		cl.refunds[r.ID] = &r
		order = append(order, stamped{entryRef{domain.EntryRefund, r.ID}, r.CreatedAt})
	}
	for _, a := range persisted.Alerts {
		cl.alerts[a.TransactionRef] = append(cl.alerts[a.TransactionRef], a)
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })
	for _, o := range order {
		cl.entries = append(cl.entries, o.ref)
	}
	cl.loaded = true
	return nil
}

// Window returns a snapshot of the customer's entries appended at or after since.
func (s *Store) Window(ctx context.Context, customerID string, since time.Time) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := s.Do(ctx, customerID, func(_ context.Context, tx *Tx) error {
		out = tx.Window(since)
		return nil
	})
	return out, err
}

// CustomerOf returns the customer owning chargeRef.
func (s *Store) CustomerOf(ctx context.Context, chargeRef string) (string, error) {
	if v, ok := s.chargeOwner.Load(chargeRef); ok {
		return v.(string), nil
	}
	owner, err := s.repo.ChargeOwner(ctx, chargeRef)
	if err != nil {
		if errors.Is(err, domain.ErrChargeNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	s.chargeOwner.Store(chargeRef, owner)
	return owner, nil
}

// GetCharge returns a snapshot of the charge.
func (s *Store) GetCharge(ctx context.Context, chargeRef string) (*domain.Charge, error) {
	customerID, err := s.CustomerOf(ctx, chargeRef)
	if err != nil {
		return nil, err
	}
	var out *domain.Charge
	err = s.Do(ctx, customerID, func(_ context.Context, tx *Tx) error {
		c, ok := tx.Charge(chargeRef)
		if !ok {
			return domain.ErrChargeNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

// FraudAlerts lists persisted alerts matching filter, oldest first.
func (s *Store) FraudAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error) {
	alerts, err := s.repo.ListFraudAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return alerts, nil
}
