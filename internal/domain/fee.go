package domain

import "github.com/holiman/uint256"

const (
	// MaxFeeRateBps caps the treasury fee at 10%.
	MaxFeeRateBps uint16 = 1000

	bpsDenominator = 10_000
)

// ValidateFeeRate rejects rates above MaxFeeRateBps.
func ValidateFeeRate(bps uint16) error {
	if bps > MaxFeeRateBps {
		return ErrFeeTooHigh
	}
	return nil
}

// FeeSplit is the division of a deposit between treasury and fulfillment.
type FeeSplit struct {
	Fee         uint64
	Fulfillment uint64
}

// SplitFee computes floor(amount*bps/10000) with a 256-bit intermediate product.
// The rounding remainder always stays with the fulfillment share, so
// Fee+Fulfillment == amount for every input.
func SplitFee(amount uint64, bps uint16) (FeeSplit, error) {
	if amount == 0 {
		return FeeSplit{}, ErrInvalidAmount
	}
	if err := ValidateFeeRate(bps); err != nil {
		return FeeSplit{}, err
	}

	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	fee := product.Div(product, uint256.NewInt(bpsDenominator))
	if !fee.IsUint64() {
		return FeeSplit{}, ErrOverflow
	}

	feeAmount := fee.Uint64()
	if feeAmount > amount {
		return FeeSplit{}, ErrOverflow
	}
	return FeeSplit{Fee: feeAmount, Fulfillment: amount - feeAmount}, nil
}

// CheckedAdd returns a+b or ErrOverflow when the sum leaves the u64 domain.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}

// CheckedSub returns a-b or ErrOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}
