package domain

import "time"

// PaymentMethod is a tokenized card. The raw PAN and CVV never reach this type.
type PaymentMethod struct {
	Token           string    `json:"token"`
	MaskedNumber    string    `json:"masked_number"`
	ExpiryMonth     int       `json:"expiry_month"`
	ExpiryYear      int       `json:"expiry_year"`
	OwnerCustomerID string    `json:"owner_customer_id"`
	Revoked         bool      `json:"revoked"`
	CreatedAt       time.Time `json:"created_at"`
}

// Expiry is a card expiry month. Cards are valid through the last instant of the month.
type Expiry struct {
	Month int
	Year  int
}

// ExpiresAt returns the first instant (UTC) at which a card with this expiry is no longer valid.
func (e Expiry) ExpiresAt() time.Time {
	return time.Date(e.Year, time.Month(e.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// Expiry returns the stored expiry of the payment method.
func (p PaymentMethod) Expiry() Expiry {
	return Expiry{Month: p.ExpiryMonth, Year: p.ExpiryYear}
}
