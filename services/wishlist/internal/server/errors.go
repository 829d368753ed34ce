package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediawish/internal/util"
	"mediawish/pkg/catalog"
	"mediawish/pkg/session"
	"mediawish/pkg/store"
	"mediawish/services/wishlist/internal/app"
)

// Stable machine-readable error codes.
const (
	codeAuthMissing      = "authentication_missing"
	codeAuthInvalid      = "authentication_invalid"
	codeRoleMismatch     = "role_mismatch"
	codeValidation       = "validation_failed"
	codeDuplicate        = "duplicate_username"
	codeAlreadyDone      = "wish_already_done"
	codeNotFound         = "not_found"
	codeInternal         = "internal_error"
	codeRateLimited      = "rate_limited"
	codeInvalidJSON      = "invalid_json"
	codePayloadTooLarge  = "payload_too_large"
	codeMethodNotAllowed = "method_not_allowed"
)

type errorResponse struct {
	Error   string           `json:"error"`
	Code    string           `json:"code"`
	Details []app.FieldError `json:"details,omitempty"`
}

// writeAppError is the single place where domain errors become HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation failed",
			Code:    codeValidation,
			Details: verr.Fields,
		})
	case errors.Is(err, session.ErrTokenMissing):
		writeError(w, http.StatusUnauthorized, codeAuthMissing, "authentication required")
	case errors.Is(err, session.ErrTokenInvalid):
		writeError(w, http.StatusForbidden, codeAuthInvalid, "invalid or expired token")
	case errors.Is(err, session.ErrRoleMismatch):
		writeError(w, http.StatusForbidden, codeRoleMismatch, "insufficient role")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeAuthInvalid, app.ErrInvalidCredentials.Error())
	case errors.Is(err, store.ErrUnknownOwner):
		// Token outlived its account.
		writeError(w, http.StatusForbidden, codeAuthInvalid, "invalid or expired token")
	case errors.Is(err, app.ErrUsernameTaken):
		writeError(w, http.StatusConflict, codeDuplicate, app.ErrUsernameTaken.Error())
	case errors.Is(err, app.ErrWishAlreadyDone):
		writeError(w, http.StatusConflict, codeAlreadyDone, app.ErrWishAlreadyDone.Error())
	case errors.Is(err, app.ErrWishNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, app.ErrWishNotFound.Error())
	case errors.Is(err, catalog.ErrUpstreamUnavailable), errors.Is(err, catalog.ErrMisconfiguredCredentials):
		// Already logged with upstream detail by the app; never echoed.
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		msg := "internal error"
		if !s.production {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, codeInternal, msg)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
