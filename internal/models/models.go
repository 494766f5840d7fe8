package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a ledger account. Owner is a principal identity, or a derived holding
// authority for escrow holdings.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Currency  string    `json:"currency"`
	Balance   uint64    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type Transaction struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Amount      uint64    `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	ReferenceID string    `json:"reference_id"`
	EscrowID    uuid.UUID `json:"escrow_id"`
	Metadata    []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type Entry struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     uuid.UUID `json:"account_id"`
	Amount        uint64    `json:"amount"`
	Direction     string    `json:"direction"` // "debit" or "credit"
	CreatedAt     time.Time `json:"created_at"`
}
