package card

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-billing-engine/internal/core/domain"
)

var now = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func validExpiry() domain.Expiry { return domain.Expiry{Month: 12, Year: 2028} }

func TestValidate_AcceptsKnownNumbers(t *testing.T) {
	numbers := []string{
		"4111111111111111",
		"4242 4242 4242 4242",
		"5555-5555-5555-4444",
		"378282246310005",
		"6011111111111117",
		"4222222222222",
		"6304000000000000",
	}
	for _, n := range numbers {
		t.Run(n, func(t *testing.T) {
			assert.NoError(t, Validate(n, validExpiry(), "123", now))
		})
	}
}

func TestValidate_RejectsSingleDigitAlteration(t *testing.T) {
	const valid = "4111111111111111"
	require.NoError(t, Validate(valid, validExpiry(), "123", now))

	for pos := 0; pos < len(valid); pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if valid[pos] == d {
				continue
			}
			altered := []byte(valid)
			altered[pos] = d
			err := Validate(string(altered), validExpiry(), "123", now)
			assert.ErrorIs(t, err, &domain.ValidationError{Code: domain.InvalidNumber}, "number %s", altered)
		}
	}
}

func TestValidate_NumberShape(t *testing.T) {
	tests := []struct {
		name   string
		number string
	}{
		{"too short", "42424242424"},
		{"too long", "42424242424242424242"},
		{"letters", "4111a11111111111"},
		{"empty", ""},
		{"luhn failure", "4111111111111112"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.number, validExpiry(), "123", now)
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, domain.InvalidNumber, vErr.Code)
		})
	}
}

func TestValidateExpiry_EndOfMonth(t *testing.T) {
	exp := domain.Expiry{Month: 3, Year: 2026}

	lastInstant := time.Date(2026, time.March, 31, 23, 59, 59, 999999999, time.UTC)
	assert.NoError(t, ValidateExpiry(exp, lastInstant))

	firstOfApril := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, ValidateExpiry(exp, firstOfApril), &domain.ValidationError{Code: domain.Expired})

	assert.ErrorIs(t, ValidateExpiry(domain.Expiry{Month: 2, Year: 2026}, now), &domain.ValidationError{Code: domain.Expired})
	assert.NoError(t, ValidateExpiry(domain.Expiry{Month: 12, Year: 26}, now), "two digit year")
}

func TestValidateExpiry_Malformed(t *testing.T) {
	for _, exp := range []domain.Expiry{{Month: 0, Year: 2030}, {Month: 13, Year: 2030}, {Month: 5, Year: -1}} {
		assert.ErrorIs(t, ValidateExpiry(exp, now), &domain.ValidationError{Code: domain.InvalidExpiry})
	}
}

func TestValidate_CVV(t *testing.T) {
	assert.NoError(t, Validate("4111111111111111", validExpiry(), "1234", now))
	for _, cvv := range []string{"", "12", "12345", "12a", "١٢٣"} {
		err := Validate("4111111111111111", validExpiry(), cvv, now)
		assert.ErrorIs(t, err, &domain.ValidationError{Code: domain.InvalidCVV}, "cvv %q", cvv)
	}
}

func TestParseExpiry(t *testing.T) {
	got, err := ParseExpiry("07/29")
	require.NoError(t, err)
	assert.Equal(t, domain.Expiry{Month: 7, Year: 2029}, got)

	got, err = ParseExpiry("11-2031")
	require.NoError(t, err)
	assert.Equal(t, domain.Expiry{Month: 11, Year: 2031}, got)

	_, err = ParseExpiry("0729")
	assert.Error(t, err)
	_, err = ParseExpiry("07/202")
	assert.Error(t, err)
}

func TestMask(t *testing.T) {
	masked := Mask("4111111111111111")
	assert.Equal(t, "****-****-****-1111", masked)

	masked = Mask("378282246310005")
	assert.Equal(t, "****-****-****-0005", masked)
	assert.NotContains(t, masked, "3782")
}
