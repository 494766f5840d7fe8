package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAuthoritySecret = "test-holding-secret-0123456789-abcdef"

func TestAuthorityDeriver_Deterministic(t *testing.T) {
	d, err := NewAuthorityDeriver(testAuthoritySecret)
	require.NoError(t, err)

	k := EscrowKey{OrderID: "ORD1", Buyer: "buyer-a"}
	first := d.HoldingAuthority(k)
	assert.Equal(t, first, d.HoldingAuthority(k))
	assert.True(t, IsHoldingAuthority(first))
	assert.Len(t, strings.TrimPrefix(first, "holding:"), 64)

	assert.NotEqual(t, first, d.HoldingAuthority(EscrowKey{OrderID: "ORD1", Buyer: "buyer-b"}))
}

func TestAuthorityDeriver_DependsOnSecret(t *testing.T) {
	a, err := NewAuthorityDeriver(testAuthoritySecret)
	require.NoError(t, err)
	b, err := NewAuthorityDeriver(testAuthoritySecret + "-other")
	require.NoError(t, err)

	k := EscrowKey{OrderID: "ORD1", Buyer: "buyer-a"}
	assert.NotEqual(t, a.HoldingAuthority(k), b.HoldingAuthority(k))
}

func TestNewAuthorityDeriver_RejectsShortSecret(t *testing.T) {
	_, err := NewAuthorityDeriver("short")
	assert.Error(t, err)
}

func TestAuthorityMatches(t *testing.T) {
	assert.True(t, AuthorityMatches("alice", "alice"))
	assert.False(t, AuthorityMatches("alice", "bob"))
	assert.False(t, AuthorityMatches("", ""))
}
