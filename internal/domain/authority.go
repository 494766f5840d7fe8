package domain

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"lukechampine.com/blake3"
)

const holdingAuthorityPrefix = "holding:"

// AuthorityDeriver produces the control tag of an escrow holding. The tag is a keyed
// BLAKE3 hash of the escrow key, so nobody without the server secret can produce it.
type AuthorityDeriver struct {
	key []byte
}

// NewAuthorityDeriver stretches secret into a 32 byte BLAKE3 key.
func NewAuthorityDeriver(secret string) (*AuthorityDeriver, error) {
	if len(strings.TrimSpace(secret)) < 32 {
		return nil, errors.New("holding authority secret must be at least 32 characters")
	}
	sum := blake3.Sum256([]byte(secret))
	return &AuthorityDeriver{key: sum[:]}, nil
}

// HoldingAuthority returns the owner tag stored on the holding account of k.
func (d *AuthorityDeriver) HoldingAuthority(k EscrowKey) string {
	h := blake3.New(32, d.key)
	_, _ = h.Write([]byte("escrow-holding"))
	_, _ = h.Write(k.seed())
	return holdingAuthorityPrefix + hex.EncodeToString(h.Sum(nil))
}

// IsHoldingAuthority reports whether owner looks like a derived holding tag. Principals
// can never authenticate as one.
func IsHoldingAuthority(owner string) bool {
	return strings.HasPrefix(owner, holdingAuthorityPrefix)
}

// AuthorityMatches compares an account owner with a presented authority in constant time.
func AuthorityMatches(owner, authority string) bool {
	if owner == "" || authority == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(owner), []byte(authority)) == 1
}
