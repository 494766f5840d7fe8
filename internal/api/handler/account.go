package handler

import (
	"net/http"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/ayo6706/payment-escrow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type accountResponse struct {
	models.Account
	DisplayBalance string `json:"display_balance"`
}

func newAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		Account:        *a,
		DisplayBalance: domain.NewMoney(a.Balance, a.Currency).String(),
	}
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	account, err := h.svc.GetBalance(r.Context(), actor, isAdmin, accountID)
	if err != nil {
		respondDomainError(w, r, "get balance", err)
		return
	}

	RespondJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *AccountHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	actor, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	page, err := queryInt32(r, "page")
	if err != nil {
		respondDomainError(w, r, "get statement", err)
		return
	}
	pageSize, err := queryInt32(r, "page_size")
	if err != nil {
		respondDomainError(w, r, "get statement", err)
		return
	}

	entries, err := h.svc.GetStatement(r.Context(), actor, isAdmin, accountID, int(page), int(pageSize))
	if err != nil {
		respondDomainError(w, r, "get statement", err)
		return
	}

	RespondJSON(w, http.StatusOK, entries)
}

// CreateAccount opens a zero balance account. Admins may open accounts for other
// owners, for example the treasury and fulfillment destinations.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	actor, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Owner string `json:"owner"`
		Kind  string `json:"kind"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = actor
	}
	if !isAdmin && owner != actor {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	account, err := h.svc.OpenAccount(r.Context(), owner, req.Kind)
	if err != nil {
		respondDomainError(w, r, "create account", err)
		return
	}

	RespondJSON(w, http.StatusCreated, newAccountResponse(account))
}
