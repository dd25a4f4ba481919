package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/kislikjeka/fundflow/internal/shared/errors"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi/middleware"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader lets clients key a request without putting the key in the body
const IdempotencyKeyHeader = "Idempotency-Key"

var (
	errUnauthorized   = apperrors.New(apperrors.CodeUnauthorized, "unauthorized")
	errInvalidBody    = apperrors.InvalidArgument("invalid request body")
	errInvalidID      = apperrors.InvalidArgument("invalid id")
	errInvalidPaging  = apperrors.InvalidArgument("limit and offset must be non-negative integers")
	errAccessDenied   = apperrors.Forbidden("no access to this resource")
	errMissingAmount  = apperrors.InvalidArgument("amount is required")
	errUnknownFundSrc = apperrors.InvalidArgument(`source must be "org" or "parent"`)

	errAllocationWallet = apperrors.InvalidState("freeze or unfreeze the allocation instead")
)

// actor returns the authenticated user set by the JWT middleware
func actor(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		return uuid.Nil, errUnauthorized
	}
	return userID, nil
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", errInvalidBody)
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// pathUUID parses a UUID URL parameter
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", errInvalidID, name)
	}
	return id, nil
}

// paging reads limit and offset query parameters; zero means the store's default
func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errInvalidPaging
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errInvalidPaging
		}
	}
	return limit, offset, nil
}

// idempotencyKey prefers the body's key and falls back to the header
func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(IdempotencyKeyHeader)
}
