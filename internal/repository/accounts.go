package repository

import (
	"context"
	"time"

	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const accountColumns = `id, owner, kind, currency, balance::text, created_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var (
		a       models.Account
		id      pgtype.UUID
		balance string
	)
	if err := row.Scan(&id, &a.Owner, &a.Kind, &a.Currency, &balance, &a.CreatedAt); err != nil {
		return models.Account{}, err
	}
	a.ID = FromPgUUID(id)
	v, err := parseNumeric("accounts.balance", balance)
	if err != nil {
		return models.Account{}, err
	}
	a.Balance = v
	return a, nil
}

type CreateAccountParams struct {
	ID       pgtype.UUID
	Owner    string
	Kind     string
	Currency string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (models.Account, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO accounts (id, owner, kind, currency, balance, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		RETURNING `+accountColumns,
		arg.ID, arg.Owner, arg.Kind, arg.Currency)
	return scanAccount(row)
}

func (q *Queries) GetAccount(ctx context.Context, id pgtype.UUID) (models.Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetAccountForUpdate locks the account row until the surrounding transaction ends.
func (q *Queries) GetAccountForUpdate(ctx context.Context, id pgtype.UUID) (models.Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

type SetAccountBalanceParams struct {
	Balance uint64
	ID      pgtype.UUID
}

// SetAccountBalance writes a balance computed by the caller under the row lock.
func (q *Queries) SetAccountBalance(ctx context.Context, arg SetAccountBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET balance = $1::numeric WHERE id = $2`, numericParam(arg.Balance), arg.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ListAccountEntriesParams struct {
	AccountID pgtype.UUID
	Limit     int32
	Offset    int32
}

func (q *Queries) ListAccountEntries(ctx context.Context, arg ListAccountEntriesParams) ([]models.Entry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, transaction_id, account_id, amount::text, direction, created_at
		FROM entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		arg.AccountID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var (
			e                   models.Entry
			id, txID, accountID pgtype.UUID
			amount              string
		)
		if err := rows.Scan(&id, &txID, &accountID, &amount, &e.Direction, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Amount, err = parseNumeric("entries.amount", amount); err != nil {
			return nil, err
		}
		e.ID = FromPgUUID(id)
		e.TransactionID = FromPgUUID(txID)
		e.AccountID = FromPgUUID(accountID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type CreateUserParams struct {
	ID       pgtype.UUID
	Username string
	Email    string
	Role     string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (time.Time, error) {
	var createdAt time.Time
	err := q.db.QueryRow(ctx, `
		INSERT INTO users (id, username, email, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`,
		arg.ID, arg.Username, arg.Email, arg.Role).Scan(&createdAt)
	return createdAt, err
}

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (models.User, error) {
	var (
		u   models.User
		uid pgtype.UUID
	)
	err := q.db.QueryRow(ctx, `SELECT id, username, email, role, created_at FROM users WHERE id = $1`, id).
		Scan(&uid, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	u.ID = FromPgUUID(uid)
	return u, nil
}
