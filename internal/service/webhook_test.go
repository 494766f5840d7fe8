package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDepositWebhookUpdatesBalances(t *testing.T) {
	f := newEscrowFixture(t, 0, 0)
	svc := NewWebhookService(f.store, f.ledger, "secret", false, domain.DefaultCurrency)
	ctx := context.Background()

	body, err := json.Marshal(DepositWebhookPayload{
		AccountID: f.funding.String(),
		Amount:    750_000,
		Currency:  "usdc",
		Reference: "dep-1",
	})
	require.NoError(t, err)

	resp, err := svc.HandleDepositWebhook(ctx, body, SignPayload([]byte("secret"), body))
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCompleted, resp.Status)
	assert.Equal(t, "0.750000 USDC", resp.Display)

	assert.Equal(t, uint64(750_000), f.balance(t, f.funding))
	assert.Equal(t, uint64(750_000), f.balance(t, uuid.MustParse(domain.SystemIssuanceAccount)))

	replayed, err := svc.HandleDepositWebhook(ctx, body, SignPayload([]byte("secret"), body))
	require.NoError(t, err)
	assert.Equal(t, resp.TransactionID, replayed.TransactionID)
	assert.Equal(t, uint64(750_000), f.balance(t, f.funding))

	net, err := f.store.Queries().GetLedgerNet(ctx)
	require.NoError(t, err)
	assert.True(t, net.IsZero())
}

func TestHandleDepositWebhookRejectsReusedReferenceWithDifferentAmount(t *testing.T) {
	f := newEscrowFixture(t, 0, 0)
	ctx := context.Background()

	first, _ := json.Marshal(DepositWebhookPayload{AccountID: f.funding.String(), Amount: 10, Currency: "USDC", Reference: "dup"})
	_, err := f.webhooks.HandleDepositWebhook(ctx, first, "")
	require.NoError(t, err)

	second, _ := json.Marshal(DepositWebhookPayload{AccountID: f.funding.String(), Amount: 11, Currency: "USDC", Reference: "dup"})
	_, err = f.webhooks.HandleDepositWebhook(ctx, second, "")
	require.ErrorIs(t, err, ErrDepositPayloadMismatch)
}

func TestHandleDepositWebhookRejectsBadSignature(t *testing.T) {
	svc := NewWebhookService(untouchedStore{t: t}, NewLedgerService(), "secret", false, domain.DefaultCurrency)

	body, err := json.Marshal(DepositWebhookPayload{AccountID: uuid.NewString(), Amount: 100_000, Currency: "USDC", Reference: "dep-2"})
	require.NoError(t, err)

	_, err = svc.HandleDepositWebhook(context.Background(), body, SignPayload([]byte("wrong"), body))
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = svc.HandleDepositWebhook(context.Background(), body, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleDepositWebhookValidatesPayload(t *testing.T) {
	svc := NewWebhookService(untouchedStore{t: t}, NewLedgerService(), "", true, domain.DefaultCurrency)

	tests := []struct {
		name string
		body string
		want error
	}{
		{"malformed", `{"amount":`, domain.ErrInvalidPayload},
		{"negative amount", `{"account_id":"` + uuid.NewString() + `","amount":-1,"currency":"USDC","reference":"r"}`, domain.ErrInvalidPayload},
		{"zero amount", `{"account_id":"` + uuid.NewString() + `","amount":0,"currency":"USDC","reference":"r"}`, domain.ErrInvalidAmount},
		{"missing reference", `{"account_id":"` + uuid.NewString() + `","amount":1,"currency":"USDC"}`, domain.ErrInvalidIdentity},
		{"bad account id", `{"account_id":"nope","amount":1,"currency":"USDC","reference":"r"}`, domain.ErrInvalidIdentity},
		{"other currency", `{"account_id":"` + uuid.NewString() + `","amount":1,"currency":"EUR","reference":"r"}`, domain.ErrCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleDepositWebhook(context.Background(), []byte(tt.body), "")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSignPayloadFormat(t *testing.T) {
	sig := SignPayload([]byte("k"), []byte("{}"))
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, SignPayload([]byte("k"), []byte("{}")))
	assert.NotEqual(t, sig, SignPayload([]byte("k2"), []byte("{}")))
}
