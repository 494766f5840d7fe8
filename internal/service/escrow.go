package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/observability"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opBootstrap = "bootstrap"
	opCreate    = "create"
	opRelease   = "release"
	opRefund    = "refund"
)

// EscrowService runs the escrow lifecycle. Each operation is one database transaction:
// any error rolls back every write and transfer it made.
type EscrowService struct {
	store     QueryStore
	ledger    TransferLedger
	authority *domain.AuthorityDeriver
	audit     *AuditService
	currency  string
	now       func() time.Time
}

func NewEscrowService(store QueryStore, ledger TransferLedger, authority *domain.AuthorityDeriver, currency string) *EscrowService {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &EscrowService{
		store:     store,
		ledger:    ledger,
		authority: authority,
		audit:     NewAuditService(store),
		currency:  currency,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type BootstrapCmd struct {
	Admin                string
	TreasuryAccountID    uuid.UUID
	FulfillmentAccountID uuid.UUID
	FeeRateBps           uint16
}

// Bootstrap persists the singleton config with zero totals. It succeeds once.
func (s *EscrowService) Bootstrap(ctx context.Context, caller string, cmd BootstrapCmd) (*domain.EscrowConfig, error) {
	cfg, err := s.bootstrap(ctx, caller, cmd)
	s.record(opBootstrap, uuid.Nil, err)
	return cfg, err
}

func (s *EscrowService) bootstrap(ctx context.Context, caller string, cmd BootstrapCmd) (*domain.EscrowConfig, error) {
	if err := domain.ValidateFeeRate(cmd.FeeRateBps); err != nil {
		return nil, err
	}
	cmd.Admin = strings.TrimSpace(cmd.Admin)
	if cmd.Admin == "" || domain.IsHoldingAuthority(cmd.Admin) {
		return nil, domain.ErrInvalidIdentity
	}
	if cmd.TreasuryAccountID == uuid.Nil || cmd.FulfillmentAccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: treasury and fulfillment destinations are required", domain.ErrInvalidIdentity)
	}

	var cfg domain.EscrowConfig
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		created, err := qtx.InsertEscrowConfig(ctx, repository.InsertEscrowConfigParams{
			Admin:                cmd.Admin,
			TreasuryAccountID:    repository.ToPgUUID(cmd.TreasuryAccountID),
			FulfillmentAccountID: repository.ToPgUUID(cmd.FulfillmentAccountID),
			FeeRateBps:           cmd.FeeRateBps,
		})
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.ErrAlreadyInitialized
			}
			return fmt.Errorf("insert escrow config: %w", err)
		}
		cfg = created

		metadata, err := json.Marshal(map[string]any{
			"admin":                  cmd.Admin,
			"treasury_account_id":    cmd.TreasuryAccountID,
			"fulfillment_account_id": cmd.FulfillmentAccountID,
			"fee_rate_bps":           cmd.FeeRateBps,
		})
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		return s.audit.Write(ctx, qtx, "escrow_config", uuid.Nil, caller, "bootstrapped", "", "INITIALIZED", metadata)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type CreateEscrowCmd struct {
	OrderID          string
	Buyer            string
	FundingAccountID uuid.UUID
	Amount           uint64
}

// Create locks Amount from the buyer's funding account into a holding owned by the
// record, splitting the fee at the configured rate.
func (s *EscrowService) Create(ctx context.Context, caller string, cmd CreateEscrowCmd) (*domain.Escrow, error) {
	key := domain.EscrowKey{OrderID: cmd.OrderID, Buyer: cmd.Buyer}
	e, err := s.create(ctx, caller, key, cmd)
	s.record(opCreate, key.ID(), err)
	return e, err
}

func (s *EscrowService) create(ctx context.Context, caller string, key domain.EscrowKey, cmd CreateEscrowCmd) (*domain.Escrow, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if cmd.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if cmd.FundingAccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: funding account is required", domain.ErrInvalidIdentity)
	}
	if !domain.AuthorityMatches(key.Buyer, caller) {
		return nil, domain.ErrUnauthorized
	}

	escrowID := key.ID()
	holdingID := key.HoldingAccountID()

	var created domain.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		cfg, err := qtx.GetEscrowConfigForUpdate(ctx)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.ErrNotInitialized
			}
			return fmt.Errorf("load escrow config: %w", err)
		}

		split, err := domain.SplitFee(cmd.Amount, cfg.FeeRateBps)
		if err != nil {
			return err
		}
		totalDeposited, err := domain.CheckedAdd(cfg.TotalDeposited, cmd.Amount)
		if err != nil {
			return err
		}

		// The config lock serializes creates, so this check cannot race another insert.
		if _, err := qtx.GetEscrow(ctx, repository.ToPgUUID(escrowID)); err == nil {
			return domain.ErrAlreadyExists
		} else if !repository.IsNotFound(err) {
			return fmt.Errorf("check existing escrow: %w", err)
		}

		if _, err := qtx.CreateAccount(ctx, repository.CreateAccountParams{
			ID:       repository.ToPgUUID(holdingID),
			Owner:    s.authority.HoldingAuthority(key),
			Kind:     domain.AccountKindHolding,
			Currency: s.currency,
		}); err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("open holding account: %w", err)
		}

		created, err = qtx.InsertEscrow(ctx, repository.InsertEscrowParams{
			ID:                repository.ToPgUUID(escrowID),
			OrderID:           key.OrderID,
			Buyer:             key.Buyer,
			FundingAccountID:  repository.ToPgUUID(cmd.FundingAccountID),
			HoldingAccountID:  repository.ToPgUUID(holdingID),
			Amount:            cmd.Amount,
			FeeRateBps:        cfg.FeeRateBps,
			FeeAmount:         split.Fee,
			FulfillmentAmount: split.Fulfillment,
		})
		if err != nil {
			switch {
			case repository.IsNotFound(err):
				return domain.ErrAlreadyExists
			case repository.IsForeignKeyViolation(err):
				return &domain.TransferError{Err: fmt.Errorf("funding account %s: %w", cmd.FundingAccountID, domain.ErrAccountNotFound)}
			}
			return fmt.Errorf("insert escrow: %w", err)
		}

		transactionID, err := s.openTransaction(ctx, qtx, escrowID, domain.TxTypeEscrowLock, cmd.Amount, map[string]any{
			"order_id":           key.OrderID,
			"buyer":              key.Buyer,
			"fee_amount":         split.Fee,
			"fulfillment_amount": split.Fulfillment,
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, qtx, TransferRequest{
			TransactionID: transactionID,
			From:          cmd.FundingAccountID,
			To:            holdingID,
			Authority:     key.Buyer,
			Amount:        cmd.Amount,
		}); err != nil {
			return err
		}

		rows, err := qtx.UpdateEscrowTotals(ctx, repository.UpdateEscrowTotalsParams{
			TotalDeposited: totalDeposited,
			TotalReleased:  cfg.TotalReleased,
		})
		if err != nil {
			return fmt.Errorf("update escrow totals: %w", err)
		}
		if err := requireExactlyOne(rows, "update escrow totals"); err != nil {
			return err
		}

		return s.writeAudit(ctx, qtx, caller, &created, "created", "", created.Status)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

type ReleaseEscrowCmd struct {
	EscrowID             uuid.UUID
	TreasuryAccountID    uuid.UUID
	FulfillmentAccountID uuid.UUID
}

// Release pays the fee to treasury and the remainder to fulfillment. Both legs commit
// together with the status change or not at all.
func (s *EscrowService) Release(ctx context.Context, caller string, cmd ReleaseEscrowCmd) (*domain.Escrow, error) {
	e, err := s.release(ctx, caller, cmd)
	s.record(opRelease, cmd.EscrowID, err)
	return e, err
}

func (s *EscrowService) release(ctx context.Context, caller string, cmd ReleaseEscrowCmd) (*domain.Escrow, error) {
	var settled domain.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		cfg, err := qtx.GetEscrowConfigForUpdate(ctx)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.ErrNotInitialized
			}
			return fmt.Errorf("load escrow config: %w", err)
		}
		if !domain.AuthorityMatches(cfg.Admin, caller) {
			return domain.ErrUnauthorized
		}
		if cmd.TreasuryAccountID != cfg.TreasuryAccountID || cmd.FulfillmentAccountID != cfg.FulfillmentAccountID {
			return domain.ErrDestinationMismatch
		}

		e, err := s.lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(e.Status, domain.EscrowStatusReleased) {
			return domain.ErrInvalidStatus
		}
		totalReleased, err := domain.CheckedAdd(cfg.TotalReleased, e.Amount)
		if err != nil {
			return err
		}

		if _, err := s.ledger.LockAccounts(ctx, qtx, e.HoldingAccountID, cfg.TreasuryAccountID, cfg.FulfillmentAccountID); err != nil {
			return err
		}
		transactionID, err := s.openTransaction(ctx, qtx, e.ID, domain.TxTypeEscrowRelease, e.Amount, map[string]any{
			"treasury_account_id":    cfg.TreasuryAccountID,
			"fulfillment_account_id": cfg.FulfillmentAccountID,
			"fee_amount":             e.FeeAmount,
			"fulfillment_amount":     e.FulfillmentAmount,
		})
		if err != nil {
			return err
		}

		authority := s.authority.HoldingAuthority(e.Key())
		legs := []TransferRequest{
			{TransactionID: transactionID, From: e.HoldingAccountID, To: cfg.TreasuryAccountID, Authority: authority, Amount: e.FeeAmount},
			{TransactionID: transactionID, From: e.HoldingAccountID, To: cfg.FulfillmentAccountID, Authority: authority, Amount: e.FulfillmentAmount},
		}
		for _, leg := range legs {
			if leg.Amount == 0 {
				continue
			}
			if err := s.ledger.Transfer(ctx, qtx, leg); err != nil {
				return err
			}
		}

		if settled, err = s.settle(ctx, qtx, e, domain.EscrowStatusReleased); err != nil {
			return err
		}

		rows, err := qtx.UpdateEscrowTotals(ctx, repository.UpdateEscrowTotalsParams{
			TotalDeposited: cfg.TotalDeposited,
			TotalReleased:  totalReleased,
		})
		if err != nil {
			return fmt.Errorf("update escrow totals: %w", err)
		}
		if err := requireExactlyOne(rows, "update escrow totals"); err != nil {
			return err
		}

		return s.writeAudit(ctx, qtx, caller, &settled, "released", e.Status, settled.Status)
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

type RefundEscrowCmd struct {
	EscrowID             uuid.UUID
	DestinationAccountID uuid.UUID
}

// Refund returns the full amount to the buyer's original funding account. Totals are
// left untouched.
func (s *EscrowService) Refund(ctx context.Context, caller string, cmd RefundEscrowCmd) (*domain.Escrow, error) {
	e, err := s.refund(ctx, caller, cmd)
	s.record(opRefund, cmd.EscrowID, err)
	return e, err
}

func (s *EscrowService) refund(ctx context.Context, caller string, cmd RefundEscrowCmd) (*domain.Escrow, error) {
	var settled domain.Escrow
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		cfg, err := qtx.GetEscrowConfig(ctx)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.ErrNotInitialized
			}
			return fmt.Errorf("load escrow config: %w", err)
		}
		if !domain.AuthorityMatches(cfg.Admin, caller) {
			return domain.ErrUnauthorized
		}

		e, err := s.lockEscrow(ctx, qtx, cmd.EscrowID)
		if err != nil {
			return err
		}
		if cmd.DestinationAccountID != e.FundingAccountID {
			return domain.ErrDestinationMismatch
		}
		if !domain.CanTransition(e.Status, domain.EscrowStatusRefunded) {
			return domain.ErrInvalidStatus
		}

		transactionID, err := s.openTransaction(ctx, qtx, e.ID, domain.TxTypeEscrowRefund, e.Amount, map[string]any{
			"destination_account_id": e.FundingAccountID,
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, qtx, TransferRequest{
			TransactionID: transactionID,
			From:          e.HoldingAccountID,
			To:            e.FundingAccountID,
			Authority:     s.authority.HoldingAuthority(e.Key()),
			Amount:        e.Amount,
		}); err != nil {
			return err
		}

		if settled, err = s.settle(ctx, qtx, e, domain.EscrowStatusRefunded); err != nil {
			return err
		}
		return s.writeAudit(ctx, qtx, caller, &settled, "refunded", e.Status, settled.Status)
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

func (s *EscrowService) lockEscrow(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (domain.Escrow, error) {
	e, err := qtx.GetEscrowForUpdate(ctx, repository.ToPgUUID(id))
	if err != nil {
		if repository.IsNotFound(err) {
			return domain.Escrow{}, domain.ErrEscrowNotFound
		}
		return domain.Escrow{}, fmt.Errorf("lock escrow: %w", err)
	}
	return e, nil
}

// settle moves e out of LOCKED. A zero row update means another writer got there
// first, which is reported as InvalidStatus.
func (s *EscrowService) settle(ctx context.Context, qtx *repository.Queries, e domain.Escrow, next domain.EscrowStatus) (domain.Escrow, error) {
	settledAt := s.now()
	rows, err := qtx.SettleEscrow(ctx, repository.SettleEscrowParams{
		ID:         repository.ToPgUUID(e.ID),
		FromStatus: e.Status,
		ToStatus:   next,
		SettledAt:  settledAt,
	})
	if err != nil {
		return domain.Escrow{}, fmt.Errorf("settle escrow: %w", err)
	}
	if rows != 1 {
		return domain.Escrow{}, domain.ErrInvalidStatus
	}
	e.Status = next
	e.SettledAt = &settledAt
	return e, nil
}

// openTransaction records the ledger transaction that groups the entries of one
// operation. The escrow row lock and the status guard in settle keep the
// reference unique within its type.
func (s *EscrowService) openTransaction(ctx context.Context, qtx *repository.Queries, escrowID uuid.UUID, txType string, amount uint64, metadata map[string]any) (uuid.UUID, error) {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode transaction metadata: %w", err)
	}
	transactionID := uuid.New()
	if _, err := qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
		ID:          repository.ToPgUUID(transactionID),
		Type:        txType,
		Amount:      amount,
		Currency:    s.currency,
		Status:      domain.TxStatusCompleted,
		ReferenceID: fmt.Sprintf("escrow:%s:%s", escrowID, txType),
		EscrowID:    repository.ToPgUUID(escrowID),
		Metadata:    encoded,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("create %s transaction: %w", txType, err)
	}
	return transactionID, nil
}

func (s *EscrowService) writeAudit(ctx context.Context, qtx *repository.Queries, caller string, e *domain.Escrow, action string, prev, next domain.EscrowStatus) error {
	metadata, err := json.Marshal(map[string]any{
		"order_id":           e.OrderID,
		"buyer":              e.Buyer,
		"amount":             e.Amount,
		"fee_amount":         e.FeeAmount,
		"fulfillment_amount": e.FulfillmentAmount,
	})
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	return s.audit.Write(ctx, qtx, auditEntityEscrow, e.ID, caller, action, string(prev), string(next), metadata)
}

// record publishes the outcome of one engine call. A failed commit leaves the outcome
// unknown and is escalated for manual reconciliation rather than retried.
func (s *EscrowService) record(op string, escrowID uuid.UUID, err error) {
	if err == nil {
		observability.RecordEscrowOperation(op, "ok")
		zap.L().Info("escrow operation completed", zap.String("operation", op), zap.String("escrow_id", escrowID.String()))
		return
	}
	if errors.Is(err, repository.ErrCommitFailed) {
		observability.RecordEscrowOperation(op, "indeterminate")
		observability.IncrementSettlementIndeterminate(op)
		zap.L().Error("escrow commit failed, manual reconciliation required",
			zap.String("operation", op),
			zap.String("escrow_id", escrowID.String()),
			zap.Error(err))
		return
	}

	code := domain.CodeOf(err)
	observability.RecordEscrowOperation(op, code)
	if domain.KindOf(err) == domain.KindInternal {
		zap.L().Error("escrow operation failed", zap.String("operation", op), zap.String("escrow_id", escrowID.String()), zap.Error(err))
		return
	}
	zap.L().Info("escrow operation rejected", zap.String("operation", op), zap.String("escrow_id", escrowID.String()), zap.String("code", code))
}
