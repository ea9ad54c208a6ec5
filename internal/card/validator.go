// Package card performs structural validation of raw card data.
//
// Nothing here stores or logs the card number or CVV; callers are expected to
// drop both as soon as Validate returns.
package card

import (
	"strconv"
	"strings"
	"time"

	"policy-billing-engine/internal/core/domain"
)

const (
	minDigits = 12
	maxDigits = 19
)

// Validate checks number, expiry and cvv in that order and returns the first
// failure as a *domain.ValidationError.
func Validate(number string, expiry domain.Expiry, cvv string, now time.Time) error {
	if _, ok := NormalizeNumber(number); !ok {
		return &domain.ValidationError{Code: domain.InvalidNumber}
	}
	if err := ValidateExpiry(expiry, now); err != nil {
		return err
	}
	if !validCVV(cvv) {
		return &domain.ValidationError{Code: domain.InvalidCVV}
	}
	return nil
}

// NormalizeNumber strips spaces and hyphens and reports whether the result is
// a 12-19 digit number passing the Luhn check.
func NormalizeNumber(number string) (string, bool) {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(number)
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", false
	}
	if !luhn(digits) {
		return "", false
	}
	return digits, true
}

// ValidateExpiry accepts a card through the last instant of its expiry month.
func ValidateExpiry(expiry domain.Expiry, now time.Time) error {
	if expiry.Month < 1 || expiry.Month > 12 || expiry.Year < 0 {
		return &domain.ValidationError{Code: domain.InvalidExpiry}
	}
	if expiry.Year < 100 {
		expiry.Year += 2000
	}
	if !now.UTC().Before(expiry.ExpiresAt()) {
		return &domain.ValidationError{Code: domain.Expired}
	}
	return nil
}

// ParseExpiry reads "MM/YY", "MM/YYYY" or "MM-YYYY".
func ParseExpiry(s string) (domain.Expiry, error) {
	parts := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool { return r == '/' || r == '-' })
	if len(parts) != 2 {
		return domain.Expiry{}, &domain.ValidationError{Code: domain.InvalidExpiry}
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return domain.Expiry{}, &domain.ValidationError{Code: domain.InvalidExpiry}
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || (len(parts[1]) != 2 && len(parts[1]) != 4) {
		return domain.Expiry{}, &domain.ValidationError{Code: domain.InvalidExpiry}
	}
	if year < 100 {
		year += 2000
	}
	return domain.Expiry{Month: month, Year: year}, nil
}

// Mask keeps only the last four digits of a normalized number.
func Mask(digits string) string {
	last4 := digits
	if len(digits) > 4 {
		last4 = digits[len(digits)-4:]
	}
	return "****-****-****-" + last4
}

// luhn validates a digit string from right to left.
func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validCVV(cvv string) bool {
	if len(cvv) != 3 && len(cvv) != 4 {
		return false
	}
	for i := 0; i < len(cvv); i++ {
		if cvv[i] < '0' || cvv[i] > '9' {
			return false
		}
	}
	return true
}
