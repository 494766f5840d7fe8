package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the number of base units in one whole token (USDC has 6 decimals).
const MicrosPerUnit = 1_000_000

// Money is an amount of base units in a specific currency.
type Money struct {
	Amount   uint64 // micros
	Currency string
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount uint64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the micros to whole units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(m.Amount), -6)
}

// FromDecimal converts whole units to micros. Sub-micro precision, negative values and
// values outside the u64 domain are rejected.
func FromDecimal(d decimal.Decimal) (uint64, error) {
	if d.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	micros := d.Shift(6)
	if !micros.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than 6 decimals: %w", d.String(), ErrInvalidAmount)
	}
	bi := micros.BigInt()
	if !bi.IsUint64() {
		return 0, ErrOverflow
	}
	return bi.Uint64(), nil
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(6), m.Currency)
}
