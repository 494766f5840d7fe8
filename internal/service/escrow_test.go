package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowCreateSplitsFeeAndLocksFunds(t *testing.T) {
	f := newEscrowFixture(t, 500, 2_000_000)

	e := f.create(t, "ORD1", 1_000_000)

	assert.Equal(t, uint64(50_000), e.FeeAmount)
	assert.Equal(t, uint64(950_000), e.FulfillmentAmount)
	assert.Equal(t, domain.EscrowStatusLocked, e.Status)
	assert.Nil(t, e.SettledAt)
	assert.Equal(t, domain.EscrowKey{OrderID: "ORD1", Buyer: f.buyer}.ID(), e.ID)

	assert.Equal(t, uint64(1_000_000), f.balance(t, e.HoldingAccountID))
	assert.Equal(t, uint64(1_000_000), f.balance(t, f.funding))
	assert.Equal(t, uint64(1_000_000), f.config(t).TotalDeposited)
	assert.Equal(t, uint64(0), f.config(t).TotalReleased)
	assert.Equal(t, 1, f.countRows(t, "SELECT COUNT(*) FROM audit_log WHERE entity_id = $1 AND action = 'created'", e.ID))
}

func TestEscrowReleasePaysTreasuryAndFulfillment(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)

	released, err := f.release(f.admin, e.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowStatusReleased, released.Status)
	require.NotNil(t, released.SettledAt)
	assert.Equal(t, uint64(50_000), f.balance(t, f.treasury))
	assert.Equal(t, uint64(950_000), f.balance(t, f.fulfillment))
	assert.Equal(t, uint64(0), f.balance(t, e.HoldingAccountID))

	cfg := f.config(t)
	assert.Equal(t, uint64(1_000_000), cfg.TotalDeposited)
	assert.Equal(t, uint64(1_000_000), cfg.TotalReleased)

	stored, err := f.svc.GetEscrow(context.Background(), f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, stored.Status)
	require.NotNil(t, stored.SettledAt)
}

func TestEscrowCreateSmallAmountRoundsFeeDown(t *testing.T) {
	f := newEscrowFixture(t, 500, 100)
	e := f.create(t, "ORD2", 7)

	assert.Equal(t, uint64(0), e.FeeAmount)
	assert.Equal(t, uint64(7), e.FulfillmentAmount)

	_, err := f.release(f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.balance(t, f.treasury))
	assert.Equal(t, uint64(7), f.balance(t, f.fulfillment))
}

func TestEscrowRefundReturnsFullAmount(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD3", 400_000)
	require.Equal(t, uint64(600_000), f.balance(t, f.funding))

	refunded, err := f.refund(f.admin, e)
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.SettledAt)
	assert.Equal(t, uint64(1_000_000), f.balance(t, f.funding))
	assert.Equal(t, uint64(0), f.balance(t, e.HoldingAccountID))
	assert.Equal(t, uint64(0), f.balance(t, f.treasury))

	cfg := f.config(t)
	assert.Equal(t, uint64(400_000), cfg.TotalDeposited)
	assert.Equal(t, uint64(0), cfg.TotalReleased)
}

func TestEscrowDoubleReleaseFails(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)

	_, err := f.release(f.admin, e.ID)
	require.NoError(t, err)

	_, err = f.release(f.admin, e.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	assert.Equal(t, uint64(50_000), f.balance(t, f.treasury))
	assert.Equal(t, uint64(950_000), f.balance(t, f.fulfillment))
	assert.Equal(t, uint64(1_000_000), f.config(t).TotalReleased)
	assert.Equal(t, 1, f.countRows(t, "SELECT COUNT(*) FROM transactions WHERE escrow_id = $1 AND type = $2", e.ID, domain.TxTypeEscrowRelease))
}

func TestEscrowSettledRecordsNeverCrossOver(t *testing.T) {
	f := newEscrowFixture(t, 250, 2_000_000)
	refunded := f.create(t, "ORD-R", 500_000)
	released := f.create(t, "ORD-L", 500_000)

	_, err := f.refund(f.admin, refunded)
	require.NoError(t, err)
	_, err = f.release(f.admin, released.ID)
	require.NoError(t, err)

	_, err = f.release(f.admin, refunded.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = f.refund(f.admin, refunded)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = f.refund(f.admin, released)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	stored, err := f.svc.GetEscrow(context.Background(), f.buyer, refunded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, stored.Status)
	stored, err = f.svc.GetEscrow(context.Background(), f.buyer, released.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, stored.Status)
}

func TestEscrowNonAdminCannotSettle(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)

	_, err := f.release(f.buyer, e.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.refund("intruder", e)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Unauthorized wins even for ids that do not exist or are already settled.
	_, err = f.release("intruder", uuid.New())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.release(f.admin, e.ID)
	require.NoError(t, err)
	_, err = f.release("intruder", e.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	assert.Equal(t, uint64(1_000_000), f.config(t).TotalReleased)
}

func TestEscrowReleaseRejectsRedirectedDestinations(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)
	attacker := f.openFunded(t, "attacker", 0)

	_, err := f.svc.Release(context.Background(), f.admin, ReleaseEscrowCmd{
		EscrowID:             e.ID,
		TreasuryAccountID:    attacker,
		FulfillmentAccountID: f.fulfillment,
	})
	assert.ErrorIs(t, err, domain.ErrDestinationMismatch)

	_, err = f.svc.Release(context.Background(), f.admin, ReleaseEscrowCmd{
		EscrowID:             e.ID,
		TreasuryAccountID:    f.treasury,
		FulfillmentAccountID: attacker,
	})
	assert.ErrorIs(t, err, domain.ErrDestinationMismatch)

	_, err = f.svc.Refund(context.Background(), f.admin, RefundEscrowCmd{
		EscrowID:             e.ID,
		DestinationAccountID: attacker,
	})
	assert.ErrorIs(t, err, domain.ErrDestinationMismatch)

	assert.Equal(t, uint64(0), f.balance(t, attacker))
	assert.Equal(t, uint64(1_000_000), f.balance(t, e.HoldingAccountID))
	stored, err := f.svc.GetEscrow(context.Background(), f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusLocked, stored.Status)
}

func TestEscrowCreateRejectsDuplicateKey(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	f.create(t, "ORD1", 100_000)

	_, err := f.svc.Create(context.Background(), f.buyer, CreateEscrowCmd{
		OrderID:          "ORD1",
		Buyer:            f.buyer,
		FundingAccountID: f.funding,
		Amount:           100_000,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, uint64(900_000), f.balance(t, f.funding))
	assert.Equal(t, uint64(100_000), f.config(t).TotalDeposited)

	// Same order id for a different buyer is a different record.
	other := "buyer-" + uuid.NewString()
	otherFunding := f.openFunded(t, other, 50)
	_, err = f.svc.Create(context.Background(), other, CreateEscrowCmd{
		OrderID:          "ORD1",
		Buyer:            other,
		FundingAccountID: otherFunding,
		Amount:           50,
	})
	require.NoError(t, err)
}

func TestEscrowCreateInsufficientFundsRollsBack(t *testing.T) {
	f := newEscrowFixture(t, 500, 10)

	_, err := f.svc.Create(context.Background(), f.buyer, CreateEscrowCmd{
		OrderID:          "ORD1",
		Buyer:            f.buyer,
		FundingAccountID: f.funding,
		Amount:           11,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.KindTransfer, domain.KindOf(err))

	assert.Equal(t, 0, f.countRows(t, "SELECT COUNT(*) FROM escrows"))
	assert.Equal(t, 0, f.countRows(t, "SELECT COUNT(*) FROM accounts WHERE kind = $1", domain.AccountKindHolding))
	assert.Equal(t, uint64(0), f.config(t).TotalDeposited)
	assert.Equal(t, uint64(10), f.balance(t, f.funding))
}

func TestEscrowCreateFromForeignFundingAccountFails(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000)
	thief := "thief-" + uuid.NewString()

	_, err := f.svc.Create(context.Background(), thief, CreateEscrowCmd{
		OrderID:          "ORD1",
		Buyer:            thief,
		FundingAccountID: f.funding,
		Amount:           500,
	})
	require.ErrorIs(t, err, domain.ErrHoldingAuthority)
	assert.Equal(t, uint64(1_000), f.balance(t, f.funding))
}

func TestEscrowCreateTotalOverflowAbortsWholeOperation(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000)
	_, err := f.pool.Exec(context.Background(), "UPDATE escrow_config SET total_deposited = 18446744073709551000")
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), f.buyer, CreateEscrowCmd{
		OrderID:          "ORD1",
		Buyer:            f.buyer,
		FundingAccountID: f.funding,
		Amount:           1_000,
	})
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, 0, f.countRows(t, "SELECT COUNT(*) FROM escrows"))
	assert.Equal(t, uint64(1_000), f.balance(t, f.funding))
}

func TestEscrowReleaseTotalOverflowAbortsWholeOperation(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)
	_, err := f.pool.Exec(context.Background(), "UPDATE escrow_config SET total_released = 18446744073709550615")
	require.NoError(t, err)

	_, err = f.release(f.admin, e.ID)
	require.ErrorIs(t, err, domain.ErrOverflow)
	assert.Equal(t, domain.KindArithmetic, domain.KindOf(err))

	stored, err := f.svc.GetEscrow(context.Background(), f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusLocked, stored.Status)
	assert.Nil(t, stored.SettledAt)
	assert.Equal(t, uint64(1_000_000), f.balance(t, e.HoldingAccountID))
	assert.Equal(t, uint64(0), f.balance(t, f.treasury))
	assert.Equal(t, uint64(0), f.balance(t, f.fulfillment))
	assert.Equal(t, uint64(18446744073709550615), f.config(t).TotalReleased)
	assert.Equal(t, 0, f.countRows(t, "SELECT COUNT(*) FROM transactions WHERE escrow_id = $1 AND type = $2", e.ID, domain.TxTypeEscrowRelease))
}

func TestEscrowSettlementIgnoresDepositReferencesInEscrowNamespace(t *testing.T) {
	f := newEscrowFixture(t, 500, 2_000_000)
	toRelease := f.create(t, "ORD-REL", 1_000_000)
	toRefund := f.create(t, "ORD-REF", 1_000_000)

	// Escrow ids are derivable from (order id, buyer), so a depositor can pick
	// references that spell out an escrow's own settlement references.
	for _, ref := range []string{
		fmt.Sprintf("escrow:%s:%s", toRelease.ID, domain.TxTypeEscrowRelease),
		fmt.Sprintf("escrow:%s:%s", toRefund.ID, domain.TxTypeEscrowRefund),
	} {
		body, err := json.Marshal(DepositWebhookPayload{
			AccountID: f.funding.String(),
			Amount:    1,
			Currency:  domain.DefaultCurrency,
			Reference: ref,
		})
		require.NoError(t, err)
		_, err = f.webhooks.HandleDepositWebhook(context.Background(), body, "")
		require.NoError(t, err)
	}

	released, err := f.release(f.admin, toRelease.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, released.Status)

	refunded, err := f.refund(f.admin, toRefund)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, refunded.Status)

	assert.Equal(t, uint64(50_000), f.balance(t, f.treasury))
	assert.Equal(t, uint64(950_000), f.balance(t, f.fulfillment))
	assert.Equal(t, uint64(1_000_002), f.balance(t, f.funding))
}

func TestEscrowConcurrentCreatesKeepTotals(t *testing.T) {
	f := newEscrowFixture(t, 100, 1_000_000)

	n := 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), f.buyer, CreateEscrowCmd{
				OrderID:          "ORD-" + strings.Repeat("x", idx+1),
				Buyer:            f.buyer,
				FundingAccountID: f.funding,
				Amount:           10_000,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, uint64(100_000), f.config(t).TotalDeposited)
	assert.Equal(t, uint64(900_000), f.balance(t, f.funding))
}

func TestEscrowConcurrentSettlementsPickOneWinner(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.release(f.admin, e.ID)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.refund(f.admin, e)
		results <- err
	}()
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, uint64(0), f.balance(t, e.HoldingAccountID))
	assert.Equal(t, uint64(1_000_000), f.balance(t, f.funding)+f.balance(t, f.treasury)+f.balance(t, f.fulfillment))
}

func TestEscrowBootstrapOnlyOnce(t *testing.T) {
	f := newEscrowFixture(t, 500, 0)

	_, err := f.svc.Bootstrap(context.Background(), f.admin, BootstrapCmd{
		Admin:                "someone-else",
		TreasuryAccountID:    f.treasury,
		FulfillmentAccountID: f.fulfillment,
		FeeRateBps:           10,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	cfg := f.config(t)
	assert.Equal(t, f.admin, cfg.Admin)
	assert.Equal(t, uint16(500), cfg.FeeRateBps)
}

func TestEscrowFeeRateIsCopiedAtCreation(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000_000)

	_, err := f.pool.Exec(context.Background(), "UPDATE escrow_config SET fee_rate_bps = 1000")
	require.NoError(t, err)

	_, err = f.release(f.admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), f.balance(t, f.treasury))
}

func TestEscrowReadsAreScopedToBuyerOrAdmin(t *testing.T) {
	f := newEscrowFixture(t, 500, 1_000_000)
	e := f.create(t, "ORD1", 1_000)
	ctx := context.Background()

	got, err := f.svc.GetEscrowByKey(ctx, f.buyer, "ORD1", f.buyer)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = f.svc.GetEscrow(ctx, f.admin, uuid.New())
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)

	// A stranger cannot tell an existing record from a missing one.
	_, err = f.svc.GetEscrow(ctx, "stranger", e.ID)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
	_, err = f.svc.GetEscrowByKey(ctx, "stranger", "ORD1", f.buyer)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
	_, err = f.svc.GetEscrowByKey(ctx, "stranger", "ORD-MISSING", f.buyer)
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)

	list, err := f.svc.ListEscrows(ctx, f.admin, ListEscrowsFilter{Status: "locked"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = f.svc.ListEscrows(ctx, "stranger", ListEscrowsFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.ListEscrows(ctx, "stranger", ListEscrowsFilter{Buyer: f.buyer})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
