package service

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/ayo6706/payment-escrow/internal/db"
	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const testAuthoritySecret = "test-holding-authority-secret-0123456789"

// setupTestDB connects to DATABASE_URL, applies the schema and truncates every table.
// Tests that need Postgres are skipped when DATABASE_URL is unset.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE TABLE audit_log, entries, transactions, escrows, escrow_config, accounts, idempotency_keys, users CASCADE")
	if err != nil && !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	require.NoError(t, db.Migrate(ctx, pool, domain.DefaultCurrency))
	return pool
}

func testAuthority(t *testing.T) *domain.AuthorityDeriver {
	t.Helper()
	deriver, err := domain.NewAuthorityDeriver(testAuthoritySecret)
	require.NoError(t, err)
	return deriver
}

// escrowFixture wires the engine against a real database with a bootstrapped config
// and one funded buyer.
type escrowFixture struct {
	pool        *pgxpool.Pool
	store       *repository.Store
	ledger      *LedgerService
	svc         *EscrowService
	accounts    *AccountService
	webhooks    *WebhookService
	admin       string
	buyer       string
	treasury    uuid.UUID
	fulfillment uuid.UUID
	funding     uuid.UUID
}

func newEscrowFixture(t *testing.T, feeRateBps uint16, fundingBalance uint64) *escrowFixture {
	t.Helper()
	ctx := context.Background()

	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	ledger := NewLedgerService()
	f := &escrowFixture{
		pool:     pool,
		store:    store,
		ledger:   ledger,
		svc:      NewEscrowService(store, ledger, testAuthority(t), domain.DefaultCurrency),
		accounts: NewAccountService(store, domain.DefaultCurrency),
		webhooks: NewWebhookService(store, ledger, "", true, domain.DefaultCurrency),
		admin:    "admin-" + uuid.NewString(),
		buyer:    "buyer-" + uuid.NewString(),
	}

	treasury, err := f.accounts.OpenAccount(ctx, "treasury-owner", domain.AccountKindTreasury)
	require.NoError(t, err)
	fulfillment, err := f.accounts.OpenAccount(ctx, "fulfillment-owner", domain.AccountKindFulfillment)
	require.NoError(t, err)
	f.treasury, f.fulfillment = treasury.ID, fulfillment.ID

	_, err = f.svc.Bootstrap(ctx, f.admin, BootstrapCmd{
		Admin:                f.admin,
		TreasuryAccountID:    f.treasury,
		FulfillmentAccountID: f.fulfillment,
		FeeRateBps:           feeRateBps,
	})
	require.NoError(t, err)

	f.funding = f.openFunded(t, f.buyer, fundingBalance)
	return f
}

// openFunded opens a funding account for owner and deposits balance into it.
func (f *escrowFixture) openFunded(t *testing.T, owner string, balance uint64) uuid.UUID {
	t.Helper()
	account, err := f.accounts.OpenAccount(context.Background(), owner, domain.AccountKindFunding)
	require.NoError(t, err)
	if balance > 0 {
		f.deposit(t, account.ID, balance)
	}
	return account.ID
}

func (f *escrowFixture) deposit(t *testing.T, accountID uuid.UUID, amount uint64) {
	t.Helper()
	body, err := json.Marshal(DepositWebhookPayload{
		AccountID: accountID.String(),
		Amount:    amount,
		Currency:  domain.DefaultCurrency,
		Reference: "dep-" + uuid.NewString(),
	})
	require.NoError(t, err)
	_, err = f.webhooks.HandleDepositWebhook(context.Background(), body, "")
	require.NoError(t, err)
}

func (f *escrowFixture) balance(t *testing.T, accountID uuid.UUID) uint64 {
	t.Helper()
	account, err := f.store.Queries().GetAccount(context.Background(), repository.ToPgUUID(accountID))
	require.NoError(t, err)
	return account.Balance
}

func (f *escrowFixture) config(t *testing.T) *domain.EscrowConfig {
	t.Helper()
	cfg, err := f.svc.GetConfig(context.Background())
	require.NoError(t, err)
	return cfg
}

func (f *escrowFixture) create(t *testing.T, orderID string, amount uint64) *domain.Escrow {
	t.Helper()
	e, err := f.svc.Create(context.Background(), f.buyer, CreateEscrowCmd{
		OrderID:          orderID,
		Buyer:            f.buyer,
		FundingAccountID: f.funding,
		Amount:           amount,
	})
	require.NoError(t, err)
	return e
}

func (f *escrowFixture) release(caller string, id uuid.UUID) (*domain.Escrow, error) {
	return f.svc.Release(context.Background(), caller, ReleaseEscrowCmd{
		EscrowID:             id,
		TreasuryAccountID:    f.treasury,
		FulfillmentAccountID: f.fulfillment,
	})
}

func (f *escrowFixture) refund(caller string, e *domain.Escrow) (*domain.Escrow, error) {
	return f.svc.Refund(context.Background(), caller, RefundEscrowCmd{
		EscrowID:             e.ID,
		DestinationAccountID: e.FundingAccountID,
	})
}

func (f *escrowFixture) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

// untouchedDB fails the test on any statement. It proves that rejected calls never
// reach storage.
type untouchedDB struct {
	t *testing.T
}

func (d untouchedDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	d.t.Fatalf("unexpected Exec")
	return pgconn.CommandTag{}, nil
}

func (d untouchedDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	d.t.Fatalf("unexpected Query")
	return nil, nil
}

func (d untouchedDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	d.t.Fatalf("unexpected QueryRow")
	return nil
}

type untouchedStore struct {
	t *testing.T
}

func (s untouchedStore) Queries() *repository.Queries {
	return repository.New(untouchedDB(s))
}

func (s untouchedStore) RunInTx(context.Context, func(q *repository.Queries) error) error {
	s.t.Fatalf("unexpected transaction")
	return nil
}
