package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/fundflow/internal/ledger"
	"github.com/kislikjeka/fundflow/internal/module/allocation"
	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/internal/transport/httpapi/middleware"
)

// serve routes a single request through a chi mux so URL params resolve,
// authenticated as userID unless it is uuid.Nil.
func serve(t *testing.T, method, pattern, target string, h http.HandlerFunc, userID uuid.UUID, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if userID != uuid.Nil {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}

	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func completedResult(txType ledger.TransactionType, amount int64, src, dst *uuid.UUID) *ledger.Result {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &ledger.Result{
		Transaction: &ledger.Transaction{
			ID:                  uuid.New(),
			Reference:           "TXN-20240301-TRF-ABC123",
			IdempotencyKey:      "key-1",
			Type:                txType,
			Status:              ledger.TransactionStatusCompleted,
			Amount:              big.NewInt(amount),
			Currency:            "NGN",
			SourceWalletID:      src,
			DestinationWalletID: dst,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
	}
}

// fakeOrgs grants roles per (org, user)
type fakeOrgs struct {
	roles map[uuid.UUID]map[uuid.UUID]org.Role
}

func (f fakeOrgs) RequireRole(_ context.Context, orgID, userID uuid.UUID, roles ...org.Role) (*org.Member, error) {
	role, ok := f.roles[orgID][userID]
	if !ok {
		return nil, org.ErrNotMember
	}
	if len(roles) == 0 {
		return &org.Member{OrgID: orgID, UserID: userID, Role: role}, nil
	}
	for _, r := range roles {
		if r == role {
			return &org.Member{OrgID: orgID, UserID: userID, Role: role}, nil
		}
	}
	return nil, org.ErrInsufficientRole
}

// fakeAllocations resolves allocations for members of the owning org
type fakeAllocations struct {
	orgs        fakeOrgs
	allocations map[uuid.UUID]*allocation.Allocation
}

func (f fakeAllocations) GetAllocation(ctx context.Context, id, actorID uuid.UUID) (*allocation.Allocation, error) {
	a, ok := f.allocations[id]
	if !ok {
		return nil, allocation.ErrAllocationNotFound
	}
	if _, err := f.orgs.RequireRole(ctx, a.OrgID, actorID); err != nil {
		return nil, err
	}
	return a, nil
}
