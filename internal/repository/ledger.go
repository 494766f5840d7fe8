package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type CreateTransactionParams struct {
	ID          pgtype.UUID
	Type        string
	Amount      uint64
	Currency    string
	Status      string
	ReferenceID string
	EscrowID    pgtype.UUID
	Metadata    []byte
}

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, `
		INSERT INTO transactions (id, type, amount, currency, status, reference_id, escrow_id, metadata, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, NOW())
		RETURNING id`,
		arg.ID, arg.Type, numericParam(arg.Amount), arg.Currency, arg.Status, arg.ReferenceID, arg.EscrowID, arg.Metadata).Scan(&id)
	return id, err
}

// GetTransactionByReference backs reference based idempotency. References are
// unique per transaction type.
func (q *Queries) GetTransactionByReference(ctx context.Context, txType, referenceID string) (models.Transaction, error) {
	var (
		t            models.Transaction
		id, escrowID pgtype.UUID
		amount       string
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, type, amount::text, currency, status, reference_id, escrow_id, metadata, created_at
		FROM transactions
		WHERE type = $1 AND reference_id = $2`, txType, referenceID).
		Scan(&id, &t.Type, &amount, &t.Currency, &t.Status, &t.ReferenceID, &escrowID, &t.Metadata, &t.CreatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	if t.Amount, err = parseNumeric("transactions.amount", amount); err != nil {
		return models.Transaction{}, err
	}
	t.ID = FromPgUUID(id)
	t.EscrowID = FromPgUUID(escrowID)
	return t, nil
}

type CreateEntryParams struct {
	ID            pgtype.UUID
	TransactionID pgtype.UUID
	AccountID     pgtype.UUID
	Amount        uint64
	Direction     string
}

func (q *Queries) CreateEntry(ctx context.Context, arg CreateEntryParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, `
		INSERT INTO entries (id, transaction_id, account_id, amount, direction, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, NOW())
		RETURNING id`,
		arg.ID, arg.TransactionID, arg.AccountID, numericParam(arg.Amount), arg.Direction).Scan(&id)
	return id, err
}

// GetLedgerNet returns credits minus debits across every entry. A balanced ledger
// returns zero.
func (q *Queries) GetLedgerNet(ctx context.Context) (decimal.Decimal, error) {
	var net string
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::text
		FROM entries`).Scan(&net)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(net)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode ledger net: %w", err)
	}
	return d, nil
}

type GetLedgerCurrencyImbalancesRow struct {
	Currency  string
	NetAmount decimal.Decimal
}

func (q *Queries) GetLedgerCurrencyImbalances(ctx context.Context) ([]GetLedgerCurrencyImbalancesRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.currency,
		       SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END)::text AS net_amount
		FROM entries e
		JOIN accounts a ON a.id = e.account_id
		GROUP BY a.currency
		HAVING SUM(CASE WHEN e.direction = 'credit' THEN e.amount ELSE -e.amount END) <> 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GetLedgerCurrencyImbalancesRow
	for rows.Next() {
		var (
			row GetLedgerCurrencyImbalancesRow
			net string
		)
		if err := rows.Scan(&row.Currency, &net); err != nil {
			return nil, err
		}
		if row.NetAmount, err = decimal.NewFromString(net); err != nil {
			return nil, fmt.Errorf("decode currency net: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   pgtype.UUID
	Actor      *string
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`,
		arg.EntityType, arg.EntityID, arg.Actor, arg.Action, arg.PrevState, arg.NextState, arg.Metadata).Scan(&id)
	return id, err
}
