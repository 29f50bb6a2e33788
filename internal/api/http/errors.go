package httpapi

import (
	"errors"
	"net/http"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog/hlog"

	domain "github.com/homemarket/negotiation-engine/internal/domain/negotiation"
	"github.com/homemarket/negotiation-engine/internal/policy"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// errorStatus maps an error returned by the negotiation service to its wire
// code and HTTP status.
func errorStatus(err error) (int, string) {
	if errors.Is(err, policy.ErrViolation) {
		return http.StatusUnprocessableEntity, "POLICY_VIOLATION"
	}
	// writes against a raft follower
	if errors.Is(err, raft.ErrNotLeader) {
		return http.StatusServiceUnavailable, "NOT_LEADER"
	}
	code := domain.Code(err)
	switch code {
	case "INVALID_AMOUNT", "INVALID_PARAM":
		return http.StatusBadRequest, code
	case "NOT_A_PARTY", "FORBIDDEN":
		return http.StatusForbidden, code
	case "NOT_FOUND":
		return http.StatusNotFound, code
	case "ALREADY_FINALIZED", "ACTIVE_NEGOTIATION_EXISTS", "CONFLICT":
		return http.StatusConflict, code
	case "BUSY":
		return http.StatusServiceUnavailable, code
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func retryableCode(code string) bool {
	switch code {
	case "CONFLICT", "BUSY", "RATE_LIMITED", "NOT_LEADER":
		return true
	}
	return false
}

// respondServiceError writes err using errorStatus. Unmapped errors are
// logged and their detail withheld from the caller.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("negotiation request failed")
		respondError(w, status, code, "internal error")
		return
	}
	respondError(w, status, code, err.Error())
}
