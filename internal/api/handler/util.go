package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/payment-escrow/internal/api/middleware"
	"github.com/ayo6706/payment-escrow/internal/api/problem"
	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

var kindStatus = map[domain.Kind]int{
	domain.KindValidation:    http.StatusBadRequest,
	domain.KindState:         http.StatusConflict,
	domain.KindAuthorization: http.StatusForbidden,
	domain.KindArithmetic:    http.StatusUnprocessableEntity,
	domain.KindTransfer:      http.StatusUnprocessableEntity,
	domain.KindConflict:      http.StatusConflict,
	domain.KindNotFound:      http.StatusNotFound,
}

// respondDomainError maps a classified service error onto a problem response.
// Unclassified errors are logged and reported as 500 without detail.
func respondDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		if dbStatus, pType, msg, mapped := mapDBError(err); mapped {
			RespondError(w, r, dbStatus, pType, msg)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		problem.WriteCode(w, r, http.StatusInternalServerError, problem.Type("internal"), http.StatusText(http.StatusInternalServerError), "internal error", "internal")
		return
	}
	code := domain.CodeOf(err)
	problem.WriteCode(w, r, status, problem.Type(string(kind)+"/"+strings.ReplaceAll(code, "_", "-")), http.StatusText(status), err.Error(), code)
}

// requestActor returns the authenticated principal and whether it holds the admin role.
func requestActor(r *http.Request) (string, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", false, errors.New("missing user in auth context")
	}
	return userID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

// decodeJSON reads a single JSON object and rejects trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func queryInt32(r *http.Request, name string) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return 0, domain.ErrInvalidFilter
	}
	return int32(v), nil
}

// mapDBError classifies storage failures that escaped the service layer. Serialization
// failures and deadlocks rolled back cleanly and are reported as retryable.
func mapDBError(err error) (status int, problemType, message string, ok bool) {
	switch {
	case repository.IsUniqueViolation(err):
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case repository.IsForeignKeyViolation(err):
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case repository.IsCheckViolation(err):
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case repository.IsNotNullViolation(err):
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	case repository.IsRetryable(err):
		return http.StatusServiceUnavailable, "db/retryable", "concurrent update, retry the request", true
	default:
		return 0, "", "", false
	}
}
