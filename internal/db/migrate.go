package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Schema returns the idempotent DDL applied by Migrate.
func Schema() string {
	return schema
}

// Migrate applies the schema and seeds the issuance account for currency. Every
// statement is idempotent so it is safe to run on each start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, currency string) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, owner, kind, currency, balance, created_at)
		VALUES ($1, $2, 'system', $3, 0, NOW())
		ON CONFLICT (id) DO NOTHING`,
		domain.SystemIssuanceAccount, domain.SystemUserID, currency); err != nil {
		return fmt.Errorf("seed issuance account: %w", err)
	}
	return nil
}
