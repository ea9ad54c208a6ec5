// Package boltdb persists the vault and ledger in a single BoltDB file.
//
// Layout:
//
//	payment_methods/<token>                 -> PaymentMethod JSON
//	charge_owners/<charge id>               -> customer id
//	alerts/<unix nanos><alert id>           -> FraudAlert JSON, time ordered
//	customers/<customer id>/charges/<id>    -> Charge JSON
//	customers/<customer id>/refunds/<id>    -> RefundRecord JSON
//	customers/<customer id>/alerts/<id>     -> FraudAlert JSON
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"policy-billing-engine/internal/core/domain"
)

var (
	bucketMethods   = []byte("payment_methods")
	bucketOwners    = []byte("charge_owners")
	bucketAlerts    = []byte("alerts")
	bucketCustomers = []byte("customers")

	subCharges = []byte("charges")
	subRefunds = []byte("refunds")
	subAlerts  = []byte("alerts")
)

// Repository implements the payment method and ledger repositories on BoltDB.
type Repository struct {
	db *bolt.DB
}

// New opens (or creates) the database at path and ensures the top-level buckets exist.
func New(path string) (*Repository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMethods, bucketOwners, bucketAlerts, bucketCustomers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database file lock.
func (r *Repository) Close() error {
	return r.db.Close()
}

// customerBucket returns the customer's bucket, creating it and its
// sub-buckets inside a writable transaction.
func customerBucket(tx *bolt.Tx, customerID string) (*bolt.Bucket, error) {
	root := tx.Bucket(bucketCustomers)
	if !tx.Writable() {
		return root.Bucket([]byte(customerID)), nil
	}
	b, err := root.CreateBucketIfNotExists([]byte(customerID))
	if err != nil {
		return nil, err
	}
	for _, name := range [][]byte{subCharges, subRefunds, subAlerts} {
		if _, err := b.CreateBucketIfNotExists(name); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func alertKey(a domain.FraudAlert) []byte {
	key := make([]byte, 8, 8+len(a.ID))
	binary.BigEndian.PutUint64(key, uint64(a.CreatedAt.UnixNano()))
	return append(key, a.ID...)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), raw)
}

// AppendCharge stores the charge, its owner index and its alerts in one transaction.
func (r *Repository) AppendCharge(_ context.Context, charge domain.Charge, alerts []domain.FraudAlert) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		cb, err := customerBucket(tx, charge.CustomerID)
		if err != nil {
			return err
		}
		charges := cb.Bucket(subCharges)
		if charges.Get([]byte(charge.ID)) != nil {
			return fmt.Errorf("charge %s already stored", charge.ID)
		}
		if err := putJSON(charges, charge.ID, charge); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOwners).Put([]byte(charge.ID), []byte(charge.CustomerID)); err != nil {
			return err
		}
		for _, a := range alerts {
			raw, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := cb.Bucket(subAlerts).Put([]byte(a.ID), raw); err != nil {
				return err
			}
			if err := tx.Bucket(bucketAlerts).Put(alertKey(a), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendRefund stores the refund and overwrites the charge with its refunded state.
func (r *Repository) AppendRefund(_ context.Context, refund domain.RefundRecord, charge domain.Charge) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		cb, err := customerBucket(tx, charge.CustomerID)
		if err != nil {
			return err
		}
		if cb.Bucket(subCharges).Get([]byte(charge.ID)) == nil {
			return domain.ErrChargeNotFound
		}
		if err := putJSON(cb.Bucket(subCharges), charge.ID, charge); err != nil {
			return err
		}
		return putJSON(cb.Bucket(subRefunds), refund.ID, refund)
	})
}

func (r *Repository) LoadLedger(_ context.Context, customerID string) (domain.CustomerLedger, error) {
	ledger := domain.CustomerLedger{CustomerID: customerID}
	err := r.db.View(func(tx *bolt.Tx) error {
		cb, _ := customerBucket(tx, customerID)
		if cb == nil {
			return nil
		}
		if err := cb.Bucket(subCharges).ForEach(func(_, v []byte) error {
			var c domain.Charge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			ledger.Charges = append(ledger.Charges, c)
			return nil
		}); err != nil {
			return err
		}
		if err := cb.Bucket(subRefunds).ForEach(func(_, v []byte) error {
			var rf domain.RefundRecord
			if err := json.Unmarshal(v, &rf); err != nil {
				return err
			}
			ledger.Refunds = append(ledger.Refunds, rf)
			return nil
		}); err != nil {
			return err
		}
		return cb.Bucket(subAlerts).ForEach(func(_, v []byte) error {
			var a domain.FraudAlert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			ledger.Alerts = append(ledger.Alerts, a)
			return nil
		})
	})
	if err != nil {
		return domain.CustomerLedger{}, err
	}

	sort.SliceStable(ledger.Charges, func(i, j int) bool { return ledger.Charges[i].CreatedAt.Before(ledger.Charges[j].CreatedAt) })
	sort.SliceStable(ledger.Refunds, func(i, j int) bool { return ledger.Refunds[i].CreatedAt.Before(ledger.Refunds[j].CreatedAt) })
	return ledger, nil
}

func (r *Repository) ChargeOwner(_ context.Context, chargeID string) (string, error) {
	var owner string
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOwners).Get([]byte(chargeID))
		if v == nil {
			return domain.ErrChargeNotFound
		}
		owner = string(v)
		return nil
	})
	return owner, err
}

// ListFraudAlerts walks the time-ordered alert index starting at filter.Since.
func (r *Repository) ListFraudAlerts(_ context.Context, filter domain.AlertFilter) ([]domain.FraudAlert, error) {
	out := []domain.FraudAlert{}
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAlerts).Cursor()
		var k, v []byte
		if filter.Since.IsZero() {
			k, v = c.First()
		} else {
			start := make([]byte, 8)
			binary.BigEndian.PutUint64(start, uint64(filter.Since.UnixNano()))
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			var a domain.FraudAlert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if filter.Matches(a) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func (r *Repository) SavePaymentMethod(_ context.Context, pm domain.PaymentMethod) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMethods), pm.Token, pm)
	})
}

func (r *Repository) GetPaymentMethod(_ context.Context, token string) (domain.PaymentMethod, error) {
	var pm domain.PaymentMethod
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMethods).Get([]byte(token))
		if v == nil {
			return domain.ErrPaymentMethodNotFound
		}
		return json.Unmarshal(v, &pm)
	})
	return pm, err
}

func (r *Repository) ListPaymentMethods(_ context.Context, customerID string) ([]domain.PaymentMethod, error) {
	out := []domain.PaymentMethod{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMethods).ForEach(func(_, v []byte) error {
			var pm domain.PaymentMethod
			if err := json.Unmarshal(v, &pm); err != nil {
				return err
			}
			if pm.OwnerCustomerID == customerID {
				out = append(out, pm)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// RevokePaymentMethod sets the revoked flag; revoking twice rewrites nothing.
func (r *Repository) RevokePaymentMethod(_ context.Context, token string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMethods)
		v := b.Get([]byte(token))
		if v == nil {
			return domain.ErrPaymentMethodNotFound
		}
		var pm domain.PaymentMethod
		if err := json.Unmarshal(v, &pm); err != nil {
			return err
		}
		if pm.Revoked {
			return nil
		}
		pm.Revoked = true
		return putJSON(b, token, pm)
	})
}
