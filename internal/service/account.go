package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
)

type AccountService struct {
	store    QueryStore
	currency string
}

func NewAccountService(store QueryStore, currency string) *AccountService {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &AccountService{
		store:    store,
		currency: currency,
	}
}

// OpenAccount creates a zero balance account owned by owner. Holding and system
// accounts cannot be opened here.
func (s *AccountService) OpenAccount(ctx context.Context, owner, kind string) (*models.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" || domain.IsHoldingAuthority(owner) {
		return nil, domain.ErrInvalidIdentity
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = domain.AccountKindFunding
	}
	if !domain.IsOpenableAccountKind(kind) {
		return nil, fmt.Errorf("%w: account kind %q", domain.ErrInvalidFilter, kind)
	}

	account, err := s.store.Queries().CreateAccount(ctx, repository.CreateAccountParams{
		ID:       repository.ToPgUUID(uuid.New()),
		Owner:    owner,
		Kind:     kind,
		Currency: s.currency,
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &account, nil
}

// GetBalance returns the account when caller owns it or isAdmin is set.
func (s *AccountService) GetBalance(ctx context.Context, caller string, isAdmin bool, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.load(ctx, caller, isAdmin, accountID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *AccountService) GetStatement(ctx context.Context, caller string, isAdmin bool, accountID uuid.UUID, page, pageSize int) ([]models.Entry, error) {
	limit, offset, err := pageWindow(page, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, caller, isAdmin, accountID); err != nil {
		return nil, err
	}
	entries, err := s.store.Queries().ListAccountEntries(ctx, repository.ListAccountEntriesParams{
		AccountID: repository.ToPgUUID(accountID),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}

func (s *AccountService) load(ctx context.Context, caller string, isAdmin bool, accountID uuid.UUID) (models.Account, error) {
	account, err := s.store.Queries().GetAccount(ctx, repository.ToPgUUID(accountID))
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Account{}, domain.ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("load account: %w", err)
	}
	if !isAdmin && !domain.AuthorityMatches(account.Owner, caller) {
		return models.Account{}, domain.ErrUnauthorized
	}
	return account, nil
}
