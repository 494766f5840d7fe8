package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/payment-escrow/internal/api/middleware"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	queries *repository.Queries
}

func NewAuthHandler(queries *repository.Queries) *AuthHandler {
	return &AuthHandler{queries: queries}
}

// Login issues a bearer token for an existing user. There is no password: this
// stands in for an upstream identity provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return
	}

	user, err := h.queries.GetUser(r.Context(), repository.ToPgUUID(uid))
	if err != nil {
		if repository.IsNotFound(err) {
			RespondError(w, r, http.StatusNotFound, "user/not-found", "User not found")
			return
		}
		zap.L().Error("load user failed", zap.Error(err), zap.String("user_id", uid.String()))
		RespondError(w, r, http.StatusInternalServerError, "user/read-failed", "Failed to load user")
		return
	}

	token, err := middleware.IssueToken(uid.String(), user.Role, tokenTTL)
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-sign-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}
