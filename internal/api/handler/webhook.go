package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payment-escrow/internal/service"
)

const signatureHeader = "X-Webhook-Signature"

// WebhookHandler handles incoming deposit notifications from the custody provider.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleDepositWebhook handles POST /v1/webhooks/deposit.
func (h *WebhookHandler) HandleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := h.webhookSvc.HandleDepositWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		RespondJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, service.ErrDepositPayloadMismatch):
		RespondError(w, r, http.StatusConflict, "webhook/reference-conflict", err.Error())
	default:
		respondDomainError(w, r, "deposit webhook", err)
	}
}
