package domain

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxOrderIDBytes bounds the external order reference.
const MaxOrderIDBytes = 32

// EscrowStatus is the settlement state of one deposit.
type EscrowStatus string

const (
	EscrowStatusLocked   EscrowStatus = "LOCKED"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
)

// Locked is the only non-terminal state. No transition re-enters it and the two
// terminal states are never connected.
var escrowTransitions = map[EscrowStatus]map[EscrowStatus]struct{}{
	EscrowStatusLocked: {
		EscrowStatusReleased: {},
		EscrowStatusRefunded: {},
	},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

// ParseEscrowStatus normalizes a stored or user supplied status.
func ParseEscrowStatus(s string) (EscrowStatus, bool) {
	status := EscrowStatus(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := escrowTransitions[status]
	return status, ok
}

// CanTransition reports whether current -> next is a legal settlement step.
func CanTransition(current, next EscrowStatus) bool {
	nextStates, ok := escrowTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// IsTerminal reports whether no further transition exists from status.
func (s EscrowStatus) IsTerminal() bool {
	next, ok := escrowTransitions[s]
	return ok && len(next) == 0
}

var (
	escrowNamespace  = uuid.MustParse("6f1c2a4e-8d0b-5c3e-9a71-2b4d6e8f0a13")
	holdingNamespace = uuid.MustParse("0d9e7b35-41c2-5f86-8e4a-7c13b5a9d260")
)

// EscrowKey is the natural key of an escrow record.
type EscrowKey struct {
	OrderID string
	Buyer   string
}

// seed is length prefixed so that distinct (order, buyer) pairs never collide.
func (k EscrowKey) seed() []byte {
	buf := make([]byte, 0, 8+len(k.OrderID)+len(k.Buyer))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(k.OrderID)))
	buf = append(buf, k.OrderID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(k.Buyer)))
	buf = append(buf, k.Buyer...)
	return buf
}

// ID returns the deterministic record id for the key.
func (k EscrowKey) ID() uuid.UUID {
	return uuid.NewSHA1(escrowNamespace, k.seed())
}

// HoldingAccountID returns the id of the ledger account that custodies the deposit.
func (k EscrowKey) HoldingAccountID() uuid.UUID {
	id := k.ID()
	return uuid.NewSHA1(holdingNamespace, id[:])
}

// Validate checks the order id bounds and the buyer identity.
func (k EscrowKey) Validate() error {
	if err := ValidateOrderID(k.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(k.Buyer) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// ValidateOrderID enforces 1..32 bytes of valid UTF-8.
func ValidateOrderID(orderID string) error {
	if orderID == "" {
		return ErrInvalidOrderID
	}
	if len(orderID) > MaxOrderIDBytes {
		return ErrOrderIDTooLong
	}
	if !utf8.ValidString(orderID) {
		return ErrInvalidOrderID
	}
	return nil
}

// Escrow is one custodied deposit.
type Escrow struct {
	ID                uuid.UUID    `json:"id"`
	OrderID           string       `json:"order_id"`
	Buyer             string       `json:"buyer"`
	FundingAccountID  uuid.UUID    `json:"funding_account_id"`
	HoldingAccountID  uuid.UUID    `json:"holding_account_id"`
	Amount            uint64       `json:"amount"`
	FeeRateBps        uint16       `json:"fee_rate_bps"`
	FeeAmount         uint64       `json:"fee_amount"`
	FulfillmentAmount uint64       `json:"fulfillment_amount"`
	Status            EscrowStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	SettledAt         *time.Time   `json:"settled_at,omitempty"`
}

// Key returns the natural key of the record.
func (e *Escrow) Key() EscrowKey {
	return EscrowKey{OrderID: e.OrderID, Buyer: e.Buyer}
}

// EscrowConfig is the singleton settlement configuration.
type EscrowConfig struct {
	Admin                string    `json:"admin"`
	TreasuryAccountID    uuid.UUID `json:"treasury_account_id"`
	FulfillmentAccountID uuid.UUID `json:"fulfillment_account_id"`
	FeeRateBps           uint16    `json:"fee_rate_bps"`
	TotalDeposited       uint64    `json:"total_deposited"`
	TotalReleased        uint64    `json:"total_released"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
