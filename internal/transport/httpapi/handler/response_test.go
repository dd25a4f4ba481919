package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kislikjeka/fundflow/internal/ledger"
	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/pkg/logger"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{apperrors.CodeInvalidArgument, http.StatusBadRequest},
		{apperrors.CodeUnauthorized, http.StatusUnauthorized},
		{apperrors.CodeForbidden, http.StatusForbidden},
		{apperrors.CodeNotFound, http.StatusNotFound},
		{apperrors.CodeConflict, http.StatusConflict},
		{apperrors.CodeInvalidState, http.StatusConflict},
		{apperrors.CodeInsufficientBalance, http.StatusUnprocessableEntity},
		{apperrors.CodeWalletNotUsable, http.StatusLocked},
		{apperrors.CodeStorageFailure, http.StatusServiceUnavailable},
		{apperrors.CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.code))
		})
	}
}

func TestRespondAppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil)

	t.Run("wrapped sentinel keeps code and adds detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := fmt.Errorf("wallet 42: %w", ledger.ErrInsufficientBalance)

		respondAppError(rec, req, logger.Discard(), err)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, apperrors.CodeInsufficientBalance, body.Code)
		assert.Equal(t, ledger.ErrInsufficientBalance.Message, body.Error)
		assert.Equal(t, err.Error(), body.Detail)
	})

	t.Run("unknown error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()

		respondAppError(rec, req, logger.Discard(), errors.New("pq: connection refused on 10.0.0.3"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.3")
		var body ErrorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, apperrors.CodeInternal, body.Code)
	})

	t.Run("storage failure is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()

		respondAppError(rec, req, logger.Discard(), apperrors.StorageFailure("insert entry", errors.New("disk full")))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk full")
	})
}
