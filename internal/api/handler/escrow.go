package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// EscrowService is the engine surface the handler drives. *service.EscrowService
// satisfies it.
type EscrowService interface {
	Bootstrap(ctx context.Context, caller string, cmd service.BootstrapCmd) (*domain.EscrowConfig, error)
	GetConfig(ctx context.Context) (*domain.EscrowConfig, error)
	Create(ctx context.Context, caller string, cmd service.CreateEscrowCmd) (*domain.Escrow, error)
	Release(ctx context.Context, caller string, cmd service.ReleaseEscrowCmd) (*domain.Escrow, error)
	Refund(ctx context.Context, caller string, cmd service.RefundEscrowCmd) (*domain.Escrow, error)
	GetEscrow(ctx context.Context, caller string, id uuid.UUID) (*domain.Escrow, error)
	GetEscrowByKey(ctx context.Context, caller, orderID, buyer string) (*domain.Escrow, error)
	ListEscrows(ctx context.Context, caller string, filter service.ListEscrowsFilter) ([]domain.Escrow, error)
}

type EscrowHandler struct {
	svc      EscrowService
	currency string
}

func NewEscrowHandler(svc EscrowService, currency string) *EscrowHandler {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &EscrowHandler{svc: svc, currency: currency}
}

type escrowResponse struct {
	domain.Escrow
	DisplayAmount      string `json:"display_amount"`
	DisplayFee         string `json:"display_fee"`
	DisplayFulfillment string `json:"display_fulfillment"`
}

func (h *EscrowHandler) present(e *domain.Escrow) escrowResponse {
	return escrowResponse{
		Escrow:             *e,
		DisplayAmount:      domain.NewMoney(e.Amount, h.currency).String(),
		DisplayFee:         domain.NewMoney(e.FeeAmount, h.currency).String(),
		DisplayFulfillment: domain.NewMoney(e.FulfillmentAmount, h.currency).String(),
	}
}

type configResponse struct {
	domain.EscrowConfig
	DisplayTotalDeposited string `json:"display_total_deposited"`
	DisplayTotalReleased  string `json:"display_total_released"`
}

func (h *EscrowHandler) presentConfig(cfg *domain.EscrowConfig) configResponse {
	return configResponse{
		EscrowConfig:          *cfg,
		DisplayTotalDeposited: domain.NewMoney(cfg.TotalDeposited, h.currency).String(),
		DisplayTotalReleased:  domain.NewMoney(cfg.TotalReleased, h.currency).String(),
	}
}

// Bootstrap handles POST /v1/escrow/config. Admin defaults to the caller.
func (h *EscrowHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Admin                string    `json:"admin"`
		TreasuryAccountID    uuid.UUID `json:"treasury_account_id"`
		FulfillmentAccountID uuid.UUID `json:"fulfillment_account_id"`
		FeeRateBps           uint16    `json:"fee_rate_bps"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if req.Admin == "" {
		req.Admin = actor
	}

	cfg, err := h.svc.Bootstrap(r.Context(), actor, service.BootstrapCmd{
		Admin:                req.Admin,
		TreasuryAccountID:    req.TreasuryAccountID,
		FulfillmentAccountID: req.FulfillmentAccountID,
		FeeRateBps:           req.FeeRateBps,
	})
	if err != nil {
		respondDomainError(w, r, "bootstrap escrow", err)
		return
	}

	RespondJSON(w, http.StatusCreated, h.presentConfig(cfg))
}

// GetConfig handles GET /v1/escrow/config.
func (h *EscrowHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfig(r.Context())
	if err != nil {
		respondDomainError(w, r, "get escrow config", err)
		return
	}
	RespondJSON(w, http.StatusOK, h.presentConfig(cfg))
}

// Create handles POST /v1/escrows. The buyer is always the authenticated caller.
func (h *EscrowHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		OrderID          string    `json:"order_id"`
		FundingAccountID uuid.UUID `json:"funding_account_id"`
		Amount           uint64    `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	e, err := h.svc.Create(r.Context(), actor, service.CreateEscrowCmd{
		OrderID:          req.OrderID,
		Buyer:            actor,
		FundingAccountID: req.FundingAccountID,
		Amount:           req.Amount,
	})
	if err != nil {
		respondDomainError(w, r, "create escrow", err)
		return
	}

	RespondJSON(w, http.StatusCreated, h.present(e))
}

// List handles GET /v1/escrows. With order_id set it resolves a single record by its
// natural key instead.
func (h *EscrowHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	q := r.URL.Query()
	if orderID := q.Get("order_id"); orderID != "" {
		buyer := q.Get("buyer")
		if buyer == "" {
			buyer = actor
		}
		e, err := h.svc.GetEscrowByKey(r.Context(), actor, orderID, buyer)
		if err != nil {
			respondDomainError(w, r, "get escrow by key", err)
			return
		}
		RespondJSON(w, http.StatusOK, []escrowResponse{h.present(e)})
		return
	}

	limit, err := queryInt32(r, "limit")
	if err != nil {
		respondDomainError(w, r, "list escrows", err)
		return
	}
	offset, err := queryInt32(r, "offset")
	if err != nil {
		respondDomainError(w, r, "list escrows", err)
		return
	}

	escrows, err := h.svc.ListEscrows(r.Context(), actor, service.ListEscrowsFilter{
		Buyer:  q.Get("buyer"),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondDomainError(w, r, "list escrows", err)
		return
	}

	out := make([]escrowResponse, 0, len(escrows))
	for i := range escrows {
		out = append(out, h.present(&escrows[i]))
	}
	RespondJSON(w, http.StatusOK, out)
}

// Get handles GET /v1/escrows/{id}.
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := escrowIDParam(w, r)
	if !ok {
		return
	}

	e, err := h.svc.GetEscrow(r.Context(), actor, id)
	if err != nil {
		respondDomainError(w, r, "get escrow", err)
		return
	}
	RespondJSON(w, http.StatusOK, h.present(e))
}

// Release handles POST /v1/escrows/{id}/release.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := escrowIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		TreasuryAccountID    uuid.UUID `json:"treasury_account_id"`
		FulfillmentAccountID uuid.UUID `json:"fulfillment_account_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	e, err := h.svc.Release(r.Context(), actor, service.ReleaseEscrowCmd{
		EscrowID:             id,
		TreasuryAccountID:    req.TreasuryAccountID,
		FulfillmentAccountID: req.FulfillmentAccountID,
	})
	if err != nil {
		respondDomainError(w, r, "release escrow", err)
		return
	}
	RespondJSON(w, http.StatusOK, h.present(e))
}

// Refund handles POST /v1/escrows/{id}/refund.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	actor, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := escrowIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		DestinationAccountID uuid.UUID `json:"destination_account_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	e, err := h.svc.Refund(r.Context(), actor, service.RefundEscrowCmd{
		EscrowID:             id,
		DestinationAccountID: req.DestinationAccountID,
	})
	if err != nil {
		respondDomainError(w, r, "refund escrow", err)
		return
	}
	RespondJSON(w, http.StatusOK, h.present(e))
}

func escrowIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-escrow-id", "Invalid escrow ID")
		return uuid.Nil, false
	}
	return id, true
}
