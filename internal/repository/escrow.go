package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const escrowConfigColumns = `admin, treasury_account_id, fulfillment_account_id, fee_rate_bps,
	total_deposited::text, total_released::text, created_at, updated_at`

func scanEscrowConfig(row pgx.Row) (domain.EscrowConfig, error) {
	var (
		cfg                           domain.EscrowConfig
		treasury, fulfillment         pgtype.UUID
		feeRate                       int16
		totalDeposited, totalReleased string
	)
	if err := row.Scan(&cfg.Admin, &treasury, &fulfillment, &feeRate, &totalDeposited, &totalReleased, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return domain.EscrowConfig{}, err
	}
	var err error
	if cfg.TotalDeposited, err = parseNumeric("escrow_config.total_deposited", totalDeposited); err != nil {
		return domain.EscrowConfig{}, err
	}
	if cfg.TotalReleased, err = parseNumeric("escrow_config.total_released", totalReleased); err != nil {
		return domain.EscrowConfig{}, err
	}
	if feeRate < 0 {
		return domain.EscrowConfig{}, fmt.Errorf("decode escrow_config.fee_rate_bps: negative value %d", feeRate)
	}
	cfg.FeeRateBps = uint16(feeRate)
	cfg.TreasuryAccountID = FromPgUUID(treasury)
	cfg.FulfillmentAccountID = FromPgUUID(fulfillment)
	return cfg, nil
}

type InsertEscrowConfigParams struct {
	Admin                string
	TreasuryAccountID    pgtype.UUID
	FulfillmentAccountID pgtype.UUID
	FeeRateBps           uint16
}

// InsertEscrowConfig creates the singleton row. It returns pgx.ErrNoRows when the row
// already exists.
func (q *Queries) InsertEscrowConfig(ctx context.Context, arg InsertEscrowConfigParams) (domain.EscrowConfig, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO escrow_config (id, admin, treasury_account_id, fulfillment_account_id, fee_rate_bps,
		                           total_deposited, total_released, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, 0, 0, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING `+escrowConfigColumns,
		arg.Admin, arg.TreasuryAccountID, arg.FulfillmentAccountID, int16(arg.FeeRateBps))
	return scanEscrowConfig(row)
}

func (q *Queries) GetEscrowConfig(ctx context.Context) (domain.EscrowConfig, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowConfigColumns+` FROM escrow_config WHERE id = 1`)
	return scanEscrowConfig(row)
}

// GetEscrowConfigForUpdate serializes every writer of the running totals.
func (q *Queries) GetEscrowConfigForUpdate(ctx context.Context) (domain.EscrowConfig, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowConfigColumns+` FROM escrow_config WHERE id = 1 FOR UPDATE`)
	return scanEscrowConfig(row)
}

type UpdateEscrowTotalsParams struct {
	TotalDeposited uint64
	TotalReleased  uint64
}

func (q *Queries) UpdateEscrowTotals(ctx context.Context, arg UpdateEscrowTotalsParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrow_config
		SET total_deposited = $1::numeric, total_released = $2::numeric, updated_at = NOW()
		WHERE id = 1`,
		numericParam(arg.TotalDeposited), numericParam(arg.TotalReleased))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const escrowColumns = `id, order_id, buyer, funding_account_id, holding_account_id, amount::text,
	fee_rate_bps, fee_amount::text, fulfillment_amount::text, status, created_at, settled_at`

func scanEscrow(row pgx.Row) (domain.Escrow, error) {
	var (
		e                                 domain.Escrow
		id, funding, holding              pgtype.UUID
		amount, feeAmount, fulfillmentAmt string
		feeRate                           int16
		status                            string
	)
	if err := row.Scan(&id, &e.OrderID, &e.Buyer, &funding, &holding, &amount,
		&feeRate, &feeAmount, &fulfillmentAmt, &status, &e.CreatedAt, &e.SettledAt); err != nil {
		return domain.Escrow{}, err
	}
	var err error
	if e.Amount, err = parseNumeric("escrows.amount", amount); err != nil {
		return domain.Escrow{}, err
	}
	if e.FeeAmount, err = parseNumeric("escrows.fee_amount", feeAmount); err != nil {
		return domain.Escrow{}, err
	}
	if e.FulfillmentAmount, err = parseNumeric("escrows.fulfillment_amount", fulfillmentAmt); err != nil {
		return domain.Escrow{}, err
	}
	parsed, ok := domain.ParseEscrowStatus(status)
	if !ok {
		return domain.Escrow{}, fmt.Errorf("decode escrows.status: unknown status %q", status)
	}
	e.Status = parsed
	e.FeeRateBps = uint16(feeRate)
	e.ID = FromPgUUID(id)
	e.FundingAccountID = FromPgUUID(funding)
	e.HoldingAccountID = FromPgUUID(holding)
	return e, nil
}

type InsertEscrowParams struct {
	ID                pgtype.UUID
	OrderID           string
	Buyer             string
	FundingAccountID  pgtype.UUID
	HoldingAccountID  pgtype.UUID
	Amount            uint64
	FeeRateBps        uint16
	FeeAmount         uint64
	FulfillmentAmount uint64
}

// InsertEscrow creates a LOCKED record. It returns pgx.ErrNoRows when a record for the
// same (order_id, buyer) already exists.
func (q *Queries) InsertEscrow(ctx context.Context, arg InsertEscrowParams) (domain.Escrow, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO escrows (id, order_id, buyer, funding_account_id, holding_account_id, amount,
		                     fee_rate_bps, fee_amount, fulfillment_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9::numeric, $10, NOW())
		ON CONFLICT DO NOTHING
		RETURNING `+escrowColumns,
		arg.ID, arg.OrderID, arg.Buyer, arg.FundingAccountID, arg.HoldingAccountID, numericParam(arg.Amount),
		int16(arg.FeeRateBps), numericParam(arg.FeeAmount), numericParam(arg.FulfillmentAmount), string(domain.EscrowStatusLocked))
	return scanEscrow(row)
}

func (q *Queries) GetEscrow(ctx context.Context, id pgtype.UUID) (domain.Escrow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (q *Queries) GetEscrowForUpdate(ctx context.Context, id pgtype.UUID) (domain.Escrow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	return scanEscrow(row)
}

type SettleEscrowParams struct {
	ID         pgtype.UUID
	FromStatus domain.EscrowStatus
	ToStatus   domain.EscrowStatus
	SettledAt  time.Time
}

// SettleEscrow moves a record out of FromStatus. Zero rows affected means the record
// was not in FromStatus.
func (q *Queries) SettleEscrow(ctx context.Context, arg SettleEscrowParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE escrows
		SET status = $1, settled_at = $2
		WHERE id = $3 AND status = $4 AND settled_at IS NULL`,
		string(arg.ToStatus), arg.SettledAt, arg.ID, string(arg.FromStatus))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ListEscrowsParams struct {
	Buyer  *string
	Status *string
	Limit  int32
	Offset int32
}

func (q *Queries) ListEscrows(ctx context.Context, arg ListEscrowsParams) ([]domain.Escrow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE ($1::text IS NULL OR buyer = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		arg.Buyer, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type EscrowHoldingMismatch struct {
	EscrowID       pgtype.UUID
	Status         string
	Amount         string
	HoldingBalance string
}

// ListEscrowHoldingMismatches returns escrows whose holding does not hold exactly the
// locked amount (LOCKED) or nothing (settled).
func (q *Queries) ListEscrowHoldingMismatches(ctx context.Context, limit int32) ([]EscrowHoldingMismatch, error) {
	rows, err := q.db.Query(ctx, `
		SELECT e.id, e.status, e.amount::text, COALESCE(a.balance, 0)::text
		FROM escrows e
		LEFT JOIN accounts a ON a.id = e.holding_account_id
		WHERE (e.status = $1 AND COALESCE(a.balance, 0) <> e.amount)
		   OR (e.status <> $1 AND COALESCE(a.balance, 0) <> 0)
		ORDER BY e.created_at
		LIMIT $2`, string(domain.EscrowStatusLocked), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EscrowHoldingMismatch
	for rows.Next() {
		var m EscrowHoldingMismatch
		if err := rows.Scan(&m.EscrowID, &m.Status, &m.Amount, &m.HoldingBalance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
