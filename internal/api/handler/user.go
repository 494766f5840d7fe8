package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/models"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserHandler struct {
	queries *repository.Queries
}

func NewUserHandler(queries *repository.Queries) *UserHandler {
	return &UserHandler{queries: queries}
}

// CreateUser registers a principal with the user role. Admins are provisioned out of band.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || !strings.Contains(req.Email, "@") {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user", "username and a valid email are required")
		return
	}

	user := &models.User{
		ID:       uuid.New(),
		Username: req.Username,
		Email:    req.Email,
		Role:     domain.RoleUser,
	}
	createdAt, err := h.queries.CreateUser(r.Context(), repository.CreateUserParams{
		ID:       repository.ToPgUUID(user.ID),
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
	if err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create user failed", zap.Error(err), zap.String("email", req.Email))
		RespondError(w, r, http.StatusInternalServerError, "user/create-failed", "Failed to create user")
		return
	}
	user.CreatedAt = createdAt

	RespondJSON(w, http.StatusCreated, user)
}
