package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Pi amounts are stellar-style 7 decimal place values.
const MaxFractionDigits = 7

var MaxAmount = decimal.NewFromInt(1_000_000)

var (
	ErrNonPositive     = errors.New("amount must be greater than zero")
	ErrTooLarge        = errors.New("amount exceeds 1,000,000")
	ErrTooManyDecimals = errors.New("amount has more than 7 decimal places")
	ErrMalformedAmount = errors.New("amount is not a valid decimal")
)

// Validate checks that an amount can be submitted as a Pi payment.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositive
	}
	if amount.GreaterThan(MaxAmount) {
		return ErrTooLarge
	}
	if !amount.Truncate(MaxFractionDigits).Equal(amount) {
		return ErrTooManyDecimals
	}
	return nil
}

// Parse reads a decimal string and validates it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Equal compares two amounts at Pi precision.
func Equal(a, b decimal.Decimal) bool {
	return a.Round(MaxFractionDigits).Equal(b.Round(MaxFractionDigits))
}
