package domain

// System IDs (Must match schema.sql seed)
const (
	SystemUserID = "11111111-1111-1111-1111-111111111111"

	// SystemIssuanceAccount is debited for every inbound deposit. Its balance is the
	// total amount ever issued into the ledger.
	SystemIssuanceAccount = "22222222-2222-2222-2222-222222222222"

	DefaultCurrency = "USDC"

	DirectionDebit  = "debit"
	DirectionCredit = "credit"

	AccountKindFunding     = "funding"
	AccountKindTreasury    = "treasury"
	AccountKindFulfillment = "fulfillment"
	AccountKindHolding     = "escrow_holding"
	AccountKindSystem      = "system"

	TxTypeDeposit       = "deposit"
	TxTypeEscrowLock    = "escrow_lock"
	TxTypeEscrowRelease = "escrow_release"
	TxTypeEscrowRefund  = "escrow_refund"

	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

// IsOpenableAccountKind reports whether clients may open an account of this kind.
// Holding and system accounts are provisioned by the service itself.
func IsOpenableAccountKind(kind string) bool {
	switch kind {
	case AccountKindFunding, AccountKindTreasury, AccountKindFulfillment:
		return true
	default:
		return false
	}
}
