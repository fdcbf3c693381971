package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/seyio/otc-desk/internal/api/middleware"
	"github.com/seyio/otc-desk/internal/api/problem"
	"github.com/seyio/otc-desk/internal/models"
)

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

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == uuid.Nil {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}
	return userID, middleware.UserRoleFromContext(r.Context()) == models.RoleOperator, nil
}

// RespondDomainError maps the trading core's sentinel errors onto the HTTP
// error taxonomy. Unknown errors fall through to a 500.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidAmount):
		RespondError(w, r, http.StatusBadRequest, "trade/invalid-amount", err.Error())
	case errors.Is(err, models.ErrUnknownCurrency):
		RespondError(w, r, http.StatusBadRequest, "trade/unknown-currency", "unknown or inactive currency")
	case errors.Is(err, models.ErrSameCurrency):
		RespondError(w, r, http.StatusBadRequest, "trade/same-currency", "swap requires two distinct assets")
	case errors.Is(err, models.ErrJustificationRequired):
		RespondError(w, r, http.StatusBadRequest, "quote/justification-required", "a justification for the override rate is required")
	case errors.Is(err, models.ErrBelowMinimumTrade):
		RespondError(w, r, http.StatusUnprocessableEntity, "trade/below-minimum", "trade is below the minimum size")
	case errors.Is(err, models.ErrLimitExceeded):
		RespondError(w, r, http.StatusUnprocessableEntity, "trade/limit-exceeded", "trading limit exceeded")
	case errors.Is(err, models.ErrRateUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "rates/unavailable", "no rate available for this pair")
	case errors.Is(err, models.ErrQuoteExpired):
		RespondError(w, r, http.StatusGone, "quote/expired", "quote validity window has passed")
	case errors.Is(err, models.ErrAlreadyAccepted):
		RespondError(w, r, http.StatusConflict, "quote/already-accepted", "quote was already accepted")
	case errors.Is(err, models.ErrAlreadyFinal):
		RespondError(w, r, http.StatusConflict, "lifecycle/already-final", "no further transitions allowed")
	case errors.Is(err, models.ErrDestinationRequired):
		RespondError(w, r, http.StatusBadRequest, "settlement/destination-required", "a settlement destination is required")
	case errors.Is(err, models.ErrDestinationMismatch):
		RespondError(w, r, http.StatusUnprocessableEntity, "settlement/destination-mismatch", "destination does not match the trade payout")
	case errors.Is(err, models.ErrUnauthorized):
		RespondError(w, r, http.StatusForbidden, "auth/forbidden", err.Error())
	case errors.Is(err, models.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "resource not found")
	case errors.Is(err, models.ErrUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "service/unavailable", "a backing service is unavailable")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func urlUUID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}
