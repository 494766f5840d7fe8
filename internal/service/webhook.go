package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrDepositPayloadMismatch = errors.New("deposit payload does not match existing reference")
)

// WebhookService credits funding accounts from signed deposit notifications.
type WebhookService struct {
	store    QueryStore
	ledger   TransferLedger
	hmacKey  []byte
	skipSig  bool
	currency string
	audit    *AuditService
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(store QueryStore, ledger TransferLedger, hmacKey string, skipSignature bool, currency string) *WebhookService {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &WebhookService{
		store:    store,
		ledger:   ledger,
		hmacKey:  []byte(hmacKey),
		skipSig:  skipSignature,
		currency: currency,
		audit:    NewAuditService(store),
	}
}

// DepositWebhookPayload represents the incoming deposit webhook payload. Amount is in
// base units (micro USDC).
type DepositWebhookPayload struct {
	AccountID string `json:"account_id"`
	Amount    uint64 `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"` // Unique reference from external system
}

// DepositWebhookResponse represents the response to a deposit webhook.
type DepositWebhookResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	Display       string    `json:"display_amount"`
	Message       string    `json:"message"`
}

// HandleDepositWebhook verifies the HMAC signature and issues Amount into the target
// funding account. Replays of a processed reference return the original transaction.
func (s *WebhookService) HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (*DepositWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var deposit DepositWebhookPayload
	if err := json.Unmarshal(payload, &deposit); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	deposit.Currency = strings.ToUpper(strings.TrimSpace(deposit.Currency))
	deposit.Reference = strings.TrimSpace(deposit.Reference)
	deposit.AccountID = strings.TrimSpace(deposit.AccountID)

	if deposit.Amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if deposit.Reference == "" || deposit.AccountID == "" {
		return nil, fmt.Errorf("%w: account_id and reference are required", domain.ErrInvalidIdentity)
	}
	if deposit.Currency != s.currency {
		return nil, &domain.TransferError{Err: fmt.Errorf("%w: ledger is %s, deposit is %s", domain.ErrCurrencyMismatch, s.currency, deposit.Currency)}
	}
	accountID, err := uuid.Parse(deposit.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid account_id", domain.ErrInvalidIdentity)
	}

	if resp, err := s.replay(ctx, deposit); resp != nil || err != nil {
		return resp, err
	}

	metadata, err := json.Marshal(map[string]string{
		"webhook_reference": deposit.Reference,
		"account_id":        deposit.AccountID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	transactionID := uuid.New()
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := qtx.CreateTransaction(ctx, repository.CreateTransactionParams{
			ID:          repository.ToPgUUID(transactionID),
			Type:        domain.TxTypeDeposit,
			Amount:      deposit.Amount,
			Currency:    deposit.Currency,
			Status:      domain.TxStatusCompleted,
			ReferenceID: deposit.Reference,
			Metadata:    metadata,
		}); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		if err := s.ledger.Issue(ctx, qtx, transactionID, accountID, deposit.Amount); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, "transaction", transactionID, "webhook", "deposited", "", domain.TxStatusCompleted, metadata)
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// A concurrent delivery of the same reference won the insert.
			if resp, replayErr := s.replay(ctx, deposit); resp != nil || replayErr != nil {
				return resp, replayErr
			}
		}
		return nil, err
	}

	zap.L().Info("deposit credited",
		zap.String("transaction_id", transactionID.String()),
		zap.String("account_id", accountID.String()),
		zap.Uint64("amount", deposit.Amount))
	return &DepositWebhookResponse{
		TransactionID: transactionID,
		Status:        domain.TxStatusCompleted,
		Display:       domain.NewMoney(deposit.Amount, deposit.Currency).String(),
		Message:       "Deposit processed successfully",
	}, nil
}

// replay returns the stored result for an already processed reference, or nil when
// the reference is new.
func (s *WebhookService) replay(ctx context.Context, deposit DepositWebhookPayload) (*DepositWebhookResponse, error) {
	existing, err := s.store.Queries().GetTransactionByReference(ctx, domain.TxTypeDeposit, deposit.Reference)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing.Amount != deposit.Amount || existing.Currency != deposit.Currency {
		return nil, ErrDepositPayloadMismatch
	}
	return &DepositWebhookResponse{
		TransactionID: existing.ID,
		Status:        existing.Status,
		Display:       domain.NewMoney(existing.Amount, existing.Currency).String(),
		Message:       "Deposit already processed",
	}, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(SignPayload(s.hmacKey, payload)))
}

// SignPayload returns the signature header value expected for payload.
func SignPayload(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
