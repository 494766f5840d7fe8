package service

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
)

// TransferRequest moves Amount from From to To under an already created transaction.
// Authority must equal the owner of From.
type TransferRequest struct {
	TransactionID uuid.UUID
	From          uuid.UUID
	To            uuid.UUID
	Authority     string
	Amount        uint64
}

// TransferLedger moves balances between accounts inside the caller's transaction.
type TransferLedger interface {
	LockAccounts(ctx context.Context, qtx *repository.Queries, ids ...uuid.UUID) (map[uuid.UUID]models.Account, error)
	Transfer(ctx context.Context, qtx *repository.Queries, req TransferRequest) error
	Issue(ctx context.Context, qtx *repository.Queries, transactionID, to uuid.UUID, amount uint64) error
}

// LedgerService is the double entry TransferLedger backed by the accounts and entries
// tables. It never begins or commits a transaction.
type LedgerService struct{}

func NewLedgerService() *LedgerService {
	return &LedgerService{}
}

// LockAccounts takes row locks on ids in a consistent order to prevent deadlocks.
// A missing account fails with ErrAccountNotFound wrapped in a TransferError.
func (s *LedgerService) LockAccounts(ctx context.Context, qtx *repository.Queries, ids ...uuid.UUID) (map[uuid.UUID]models.Account, error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	locked := make(map[uuid.UUID]models.Account, len(sorted))
	for _, id := range sorted {
		account, err := qtx.GetAccountForUpdate(ctx, repository.ToPgUUID(id))
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, &domain.TransferError{Err: fmt.Errorf("account %s: %w", id, domain.ErrAccountNotFound)}
			}
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = account
	}
	return locked, nil
}

// Transfer validates and applies one debit/credit pair. Every rejection is a
// TransferError and leaves no writes behind in the caller's transaction.
func (s *LedgerService) Transfer(ctx context.Context, qtx *repository.Queries, req TransferRequest) error {
	if req.Amount == 0 || req.From == req.To {
		return &domain.TransferError{Err: domain.ErrInvalidTransfer}
	}

	locked, err := s.LockAccounts(ctx, qtx, req.From, req.To)
	if err != nil {
		return err
	}
	from, to := locked[req.From], locked[req.To]

	if !domain.AuthorityMatches(from.Owner, req.Authority) {
		return &domain.TransferError{Err: domain.ErrHoldingAuthority}
	}
	if from.Currency != to.Currency {
		return &domain.TransferError{Err: fmt.Errorf("%w: %s to %s", domain.ErrCurrencyMismatch, from.Currency, to.Currency)}
	}
	debited, err := domain.CheckedSub(from.Balance, req.Amount)
	if err != nil {
		return &domain.TransferError{Err: domain.ErrInsufficientFunds}
	}
	credited, err := domain.CheckedAdd(to.Balance, req.Amount)
	if err != nil {
		return err
	}

	if err := writeEntries(ctx, qtx, req.TransactionID, req.From, req.To, req.Amount); err != nil {
		return err
	}
	if err := setBalance(ctx, qtx, req.From, debited); err != nil {
		return err
	}
	return setBalance(ctx, qtx, req.To, credited)
}

// Issue credits to with freshly issued funds. The issuance account is debited in the
// entries table while its balance counts the total issued, so it never goes negative.
func (s *LedgerService) Issue(ctx context.Context, qtx *repository.Queries, transactionID, to uuid.UUID, amount uint64) error {
	if amount == 0 {
		return &domain.TransferError{Err: domain.ErrInvalidTransfer}
	}
	issuanceID := uuid.MustParse(domain.SystemIssuanceAccount)

	locked, err := s.LockAccounts(ctx, qtx, issuanceID, to)
	if err != nil {
		return err
	}
	issuance, target := locked[issuanceID], locked[to]
	if target.Kind != domain.AccountKindFunding {
		return &domain.TransferError{Err: fmt.Errorf("%w: deposits credit funding accounts only", domain.ErrInvalidTransfer)}
	}
	if issuance.Currency != target.Currency {
		return &domain.TransferError{Err: fmt.Errorf("%w: %s to %s", domain.ErrCurrencyMismatch, issuance.Currency, target.Currency)}
	}

	issued, err := domain.CheckedAdd(issuance.Balance, amount)
	if err != nil {
		return err
	}
	credited, err := domain.CheckedAdd(target.Balance, amount)
	if err != nil {
		return err
	}

	if err := writeEntries(ctx, qtx, transactionID, issuanceID, to, amount); err != nil {
		return err
	}
	if err := setBalance(ctx, qtx, issuanceID, issued); err != nil {
		return err
	}
	return setBalance(ctx, qtx, to, credited)
}

func writeEntries(ctx context.Context, qtx *repository.Queries, transactionID, debit, credit uuid.UUID, amount uint64) error {
	if _, err := qtx.CreateEntry(ctx, repository.CreateEntryParams{
		ID:            repository.ToPgUUID(uuid.New()),
		TransactionID: repository.ToPgUUID(transactionID),
		AccountID:     repository.ToPgUUID(debit),
		Amount:        amount,
		Direction:     domain.DirectionDebit,
	}); err != nil {
		return fmt.Errorf("create debit entry: %w", err)
	}
	if _, err := qtx.CreateEntry(ctx, repository.CreateEntryParams{
		ID:            repository.ToPgUUID(uuid.New()),
		TransactionID: repository.ToPgUUID(transactionID),
		AccountID:     repository.ToPgUUID(credit),
		Amount:        amount,
		Direction:     domain.DirectionCredit,
	}); err != nil {
		return fmt.Errorf("create credit entry: %w", err)
	}
	return nil
}

func setBalance(ctx context.Context, qtx *repository.Queries, id uuid.UUID, balance uint64) error {
	rows, err := qtx.SetAccountBalance(ctx, repository.SetAccountBalanceParams{
		Balance: balance,
		ID:      repository.ToPgUUID(id),
	})
	if err != nil {
		return fmt.Errorf("update balance of %s: %w", id, err)
	}
	return requireExactlyOne(rows, "update account balance")
}
