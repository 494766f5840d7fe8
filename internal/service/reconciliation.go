package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/observability"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"go.uber.org/zap"
)

const holdingMismatchScanLimit = 500

// ReconciliationReport summarizes one pass. It never triggers fund movement.
type ReconciliationReport struct {
	LedgerBalanced    bool
	HoldingMismatches int
}

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run checks that the net sum of all ledger entries is zero and that every holding
// carries exactly what its escrow status implies.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	queries := s.store.Queries()

	net, err := queries.GetLedgerNet(ctx)
	if err != nil {
		return report, fmt.Errorf("run ledger net query: %w", err)
	}
	report.LedgerBalanced = net.IsZero()
	if !report.LedgerBalanced {
		observability.IncrementLedgerImbalance("ALL")
		zap.L().Error("CRITICAL: ledger imbalance detected", zap.String("net_amount", net.String()))

		imbalances, byCurrencyErr := queries.GetLedgerCurrencyImbalances(ctx)
		if byCurrencyErr == nil {
			for _, row := range imbalances {
				observability.IncrementLedgerImbalance(row.Currency)
				zap.L().Error("ledger imbalance by currency", zap.String("currency", row.Currency), zap.String("net_amount", row.NetAmount.String()))
			}
		} else {
			zap.L().Error("failed to load currency imbalances", zap.Error(byCurrencyErr))
		}
	}

	mismatches, err := queries.ListEscrowHoldingMismatches(ctx, holdingMismatchScanLimit)
	if err != nil {
		return report, fmt.Errorf("run holding mismatch query: %w", err)
	}
	report.HoldingMismatches = len(mismatches)
	observability.SetHoldingMismatches(len(mismatches))
	for _, m := range mismatches {
		zap.L().Error("escrow holding mismatch, manual reconciliation required",
			zap.String("escrow_id", repository.FromPgUUID(m.EscrowID).String()),
			zap.String("status", m.Status),
			zap.String("expected_balance", expectedHoldingBalance(m)),
			zap.String("holding_balance", m.HoldingBalance))
	}

	if report.LedgerBalanced && report.HoldingMismatches == 0 {
		zap.L().Info("Ledger Balanced")
	}
	return report, nil
}

// expectedHoldingBalance is the locked amount until the escrow settles, then zero.
func expectedHoldingBalance(m repository.EscrowHoldingMismatch) string {
	status, ok := domain.ParseEscrowStatus(m.Status)
	if ok && status.IsTerminal() {
		return "0"
	}
	return m.Amount
}
