package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
)

// GetConfig returns the singleton config including running totals.
func (s *EscrowService) GetConfig(ctx context.Context) (*domain.EscrowConfig, error) {
	cfg, err := s.store.Queries().GetEscrowConfig(ctx)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrNotInitialized
		}
		return nil, fmt.Errorf("load escrow config: %w", err)
	}
	return &cfg, nil
}

// GetEscrow returns one record. Only its buyer and the configured admin may read it.
// Ids derive from public keys, so other callers get EscrowNotFound whether or not the
// record exists.
func (s *EscrowService) GetEscrow(ctx context.Context, caller string, id uuid.UUID) (*domain.Escrow, error) {
	e, err := s.store.Queries().GetEscrow(ctx, repository.ToPgUUID(id))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("load escrow: %w", err)
	}
	if domain.AuthorityMatches(e.Buyer, caller) {
		return &e, nil
	}
	admin, err := s.isAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, domain.ErrEscrowNotFound
	}
	return &e, nil
}

// GetEscrowByKey addresses a record by its natural key without a secondary index.
func (s *EscrowService) GetEscrowByKey(ctx context.Context, caller, orderID, buyer string) (*domain.Escrow, error) {
	key := domain.EscrowKey{OrderID: orderID, Buyer: buyer}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.GetEscrow(ctx, caller, key.ID())
}

type ListEscrowsFilter struct {
	Buyer  string
	Status string
	Limit  int32
	Offset int32
}

// ListEscrows pages through records, newest first. Non-admin callers only see
// their own records.
func (s *EscrowService) ListEscrows(ctx context.Context, caller string, filter ListEscrowsFilter) ([]domain.Escrow, error) {
	admin, err := s.isAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !admin {
		if filter.Buyer != "" && filter.Buyer != caller {
			return nil, domain.ErrUnauthorized
		}
		filter.Buyer = caller
	}

	params := repository.ListEscrowsParams{}
	params.Limit, params.Offset = clampPage(filter.Limit, filter.Offset)
	if filter.Buyer != "" {
		params.Buyer = &filter.Buyer
	}
	if filter.Status != "" {
		status, ok := domain.ParseEscrowStatus(filter.Status)
		if !ok {
			return nil, domain.ErrInvalidFilter
		}
		value := string(status)
		params.Status = &value
	}

	escrows, err := s.store.Queries().ListEscrows(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	if escrows == nil {
		escrows = []domain.Escrow{}
	}
	return escrows, nil
}

func (s *EscrowService) isAdmin(ctx context.Context, caller string) (bool, error) {
	cfg, err := s.store.Queries().GetEscrowConfig(ctx)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load escrow config: %w", err)
	}
	return domain.AuthorityMatches(cfg.Admin, caller), nil
}
