package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "USDC") // 10.50 USDC
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestMoney_ToDecimal_MaxUint64(t *testing.T) {
	m := NewMoney(math.MaxUint64, "USDC")
	assert.Equal(t, "18446744073709.551615", m.ToDecimal().String())
}

func TestFromDecimal(t *testing.T) {
	micros, err := FromDecimal(decimal.RequireFromString("10.50"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500_000), micros)
}

func TestFromDecimal_RejectsSubMicro(t *testing.T) {
	_, err := FromDecimal(decimal.RequireFromString("0.0000001"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFromDecimal_RejectsNegative(t *testing.T) {
	_, err := FromDecimal(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFromDecimal_RejectsOutOfRange(t *testing.T) {
	_, err := FromDecimal(decimal.RequireFromString("18446744073709.551616"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "1.000000 USDC", NewMoney(1_000_000, "USDC").String())
}
