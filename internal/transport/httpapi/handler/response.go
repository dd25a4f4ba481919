package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with an explicit status
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// statusFor maps an error code to its HTTP status
func statusFor(code string) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeConflict, apperrors.CodeInvalidState:
		return http.StatusConflict
	case apperrors.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperrors.CodeWalletNotUsable:
		return http.StatusLocked
	case apperrors.CodeStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondAppError writes err with the status of its code.
// Server-side failures are logged and reach the client without detail.
func respondAppError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	code := apperrors.CodeOf(err)
	status := statusFor(code)

	if status >= http.StatusInternalServerError {
		log.WithContext(r.Context()).WithError(err).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
		)
		respondError(w, status, code, http.StatusText(status))
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		resp.Error = appErr.Message
		if detail := err.Error(); detail != appErr.Message {
			resp.Detail = detail
		}
	}
	respondJSON(w, status, resp)
}
