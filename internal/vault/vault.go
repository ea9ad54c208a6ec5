// Package vault tokenizes validated cards and resolves tokens for charging.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"policy-billing-engine/internal/card"
	"policy-billing-engine/internal/core/domain"
	"policy-billing-engine/internal/core/ports"
)

const tokenPrefix = "pm_"

// Vault owns tokenization. Only the masked number and expiry are handed to the repository.
type Vault struct {
	repo   ports.PaymentMethodRepository
	clock  ports.Clock
	logger *slog.Logger
}

// New creates a vault over repo.
func New(repo ports.PaymentMethodRepository, clock ports.Clock, logger *slog.Logger) *Vault {
	return &Vault{repo: repo, clock: clock, logger: logger}
}

// Register validates the card and stores a new tokenized payment method.
func (v *Vault) Register(ctx context.Context, in domain.RegisterCardInput) (*domain.PaymentMethod, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidRequest)
	}
	now := v.clock.Now()
	if err := card.Validate(in.CardNumber, in.Expiry, in.CVV, now); err != nil {
		return nil, err
	}
	digits, _ := card.NormalizeNumber(in.CardNumber)

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	expiry := in.Expiry
	if expiry.Year < 100 {
		expiry.Year += 2000
	}
	pm := domain.PaymentMethod{
		Token:           token,
		MaskedNumber:    card.Mask(digits),
		ExpiryMonth:     expiry.Month,
		ExpiryYear:      expiry.Year,
		OwnerCustomerID: in.CustomerID,
		CreatedAt:       now,
	}
	if err := v.repo.SavePaymentMethod(ctx, pm); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	v.logger.Info("payment method registered", "customer_id", in.CustomerID, "token", token, "masked_number", pm.MaskedNumber)
	return &pm, nil
}

// Resolve returns the payment method for token, revoked or not.
func (v *Vault) Resolve(ctx context.Context, token string) (*domain.PaymentMethod, error) {
	pm, err := v.repo.GetPaymentMethod(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentMethodNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return &pm, nil
}

// ResolveForCharge resolves token on behalf of customerID. A token owned by
// another customer is reported as not found.
func (v *Vault) ResolveForCharge(ctx context.Context, customerID, token string) (*domain.PaymentMethod, error) {
	pm, err := v.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if pm.OwnerCustomerID != customerID {
		return nil, domain.ErrPaymentMethodNotFound
	}
	if pm.Revoked {
		return nil, domain.ErrPaymentMethodRevoked
	}
	if err := card.ValidateExpiry(pm.Expiry(), v.clock.Now()); err != nil {
		return nil, err
	}
	return pm, nil
}

// List returns the customer's payment methods.
func (v *Vault) List(ctx context.Context, customerID string) ([]domain.PaymentMethod, error) {
	methods, err := v.repo.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return methods, nil
}

// Revoke marks the token unusable for future charges. Revoking twice is a no-op.
func (v *Vault) Revoke(ctx context.Context, token string) error {
	if err := v.repo.RevokePaymentMethod(ctx, token); err != nil {
		if errors.Is(err, domain.ErrPaymentMethodNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	v.logger.Info("payment method revoked", "token", token)
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}
