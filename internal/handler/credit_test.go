package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/auth"
	"github.com/sakif/docmeter/internal/handler"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository/sqlite"
	"github.com/sakif/docmeter/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockGate returns canned decisions and counts calls.
type MockGate struct {
	Admin        service.Decision
	Credit       service.Decision
	CreditCalls  int
	LastEndpoint string
}

func (m *MockGate) RequireAdmin(context.Context) service.Decision { return m.Admin }

func (m *MockGate) RequireCredit(_ context.Context, endpoint string) service.Decision {
	m.CreditCalls++
	m.LastEndpoint = endpoint
	return m.Credit
}

// MockLedger fails every call with Err when set.
type MockLedger struct {
	Balance int64
	Err     error
}

func (m *MockLedger) GetBalance(context.Context, string) (int64, error) { return m.Balance, m.Err }

func (m *MockLedger) Grant(_ context.Context, _ string, amount int64) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.Balance += amount
	return m.Balance, nil
}

func decodeError(t *testing.T, body io.Reader) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&res))
	return res
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// =========================================================================
// GATE MIDDLEWARE TESTS
// =========================================================================

func TestCreditGate_DenyReasons(t *testing.T) {
	tests := []struct {
		reason     service.DenyReason
		wantStatus int
	}{
		{reason: service.ReasonUnauthorized, wantStatus: http.StatusUnauthorized},
		{reason: service.ReasonInsufficientCredit, wantStatus: http.StatusPaymentRequired},
		{reason: service.ReasonStorageUnavailable, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			gate := &MockGate{Credit: service.Decision{Reason: tt.reason, Principal: model.Principal{ID: "github:1"}}}
			h := handler.NewCreditHandler(gate, &MockLedger{}, testLogger())

			called := false
			rr := httptest.NewRecorder()
			h.CreditGate("documents.extract")(okHandler(&called)).
				ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/documents/extract", nil))

			assert.False(t, called, "denied request must not reach the handler")
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, string(tt.reason), decodeError(t, rr.Body).Error)
			assert.Equal(t, "documents.extract", gate.LastEndpoint)
		})
	}
}

func TestCreditGate_StorageUnavailableSetsRetryAfter(t *testing.T) {
	gate := &MockGate{Credit: service.Decision{Reason: service.ReasonStorageUnavailable}}
	h := handler.NewCreditHandler(gate, &MockLedger{}, testLogger())

	called := false
	rr := httptest.NewRecorder()
	h.CreditGate("credits.debit")(okHandler(&called)).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestCreditGate_AllowPassesRemaining(t *testing.T) {
	gate := &MockGate{Credit: service.Decision{Allowed: true, Remaining: 41}}
	h := handler.NewCreditHandler(gate, &MockLedger{}, testLogger())

	rr := httptest.NewRecorder()
	h.CreditGate("documents.extract")(http.HandlerFunc(h.HandleExtract)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/documents/extract", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	var res handler.ExtractResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "accepted", res.Status)
	assert.Equal(t, int64(41), res.Remaining)
}

func TestAdminOnly(t *testing.T) {
	tests := []struct {
		name       string
		decision   service.Decision
		wantStatus int
		wantCalled bool
	}{
		{name: "anonymous", decision: service.Decision{Reason: service.ReasonUnauthorized}, wantStatus: http.StatusUnauthorized},
		{name: "not operator", decision: service.Decision{Reason: service.ReasonForbidden}, wantStatus: http.StatusForbidden},
		{name: "operator", decision: service.Decision{Allowed: true}, wantStatus: http.StatusOK, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewCreditHandler(&MockGate{Admin: tt.decision}, &MockLedger{}, testLogger())

			called := false
			rr := httptest.NewRecorder()
			h.AdminOnly(okHandler(&called)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/credits/u1", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCalled, called)
		})
	}
}

// =========================================================================
// LEDGER ENDPOINT TESTS
// =========================================================================

func TestHandleBalance(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		h := handler.NewCreditHandler(&MockGate{}, &MockLedger{}, testLogger())
		rr := httptest.NewRecorder()

		h.HandleBalance(rr, httptest.NewRequest(http.MethodGet, "/api/credits", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("signed in", func(t *testing.T) {
		h := handler.NewCreditHandler(&MockGate{}, &MockLedger{Balance: 7}, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), model.Principal{ID: "github:5"}))
		rr := httptest.NewRecorder()

		h.HandleBalance(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var res handler.BalanceResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, handler.BalanceResponse{UserID: "github:5", Credits: 7}, res)
	})

	t.Run("storage down", func(t *testing.T) {
		ledger := &MockLedger{Err: apperror.StorageUnavailable("get balance", errors.New("pq: connection refused"))}
		h := handler.NewCreditHandler(&MockGate{}, ledger, testLogger())
		req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), model.Principal{ID: "github:5"}))
		rr := httptest.NewRecorder()

		h.HandleBalance(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		res := decodeError(t, rr.Body)
		assert.Equal(t, "storage_unavailable", res.Error)
		assert.NotContains(t, res.Message, "pq:", "driver detail must not leak")
	})
}

func TestHandleAdminGrant(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := service.NewLedgerService(db, time.Second, testLogger(), nil)
	h := handler.NewCreditHandler(&MockGate{Admin: service.Decision{Allowed: true}}, ledger, testLogger())

	r := chi.NewRouter()
	r.With(h.AdminOnly).Post("/api/admin/credits/{userID}/grant", h.HandleAdminGrant)
	r.With(h.AdminOnly).Get("/api/admin/credits/{userID}", h.HandleAdminBalance)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantCredits int64
	}{
		{name: "first grant", body: `{"amount":5}`, wantStatus: http.StatusOK, wantCredits: 5},
		{name: "second grant accumulates", body: `{"amount":3}`, wantStatus: http.StatusOK, wantCredits: 8},
		{name: "zero amount", body: `{"amount":0}`, wantStatus: http.StatusBadRequest},
		{name: "negative amount", body: `{"amount":-2}`, wantStatus: http.StatusBadRequest},
		{name: "overflowing amount", body: `{"amount":9223372036854775807}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{"amount":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/admin/credits/github:77/grant", bytes.NewBufferString(tt.body))
			r.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "validation_error", decodeError(t, rr.Body).Error)
				return
			}
			var res handler.BalanceResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
			assert.Equal(t, "github:77", res.UserID)
			assert.Equal(t, tt.wantCredits, res.Credits)
		})
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/credits/github:77", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var res handler.BalanceResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, int64(8), res.Credits)
}

func TestHandleAdmin_PaddedUserIDEchoesTrimmedID(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := service.NewLedgerService(db, time.Second, testLogger(), nil)
	h := handler.NewCreditHandler(&MockGate{Admin: service.Decision{Allowed: true}}, ledger, testLogger())

	r := chi.NewRouter()
	r.With(h.AdminOnly).Post("/api/admin/credits/{userID}/grant", h.HandleAdminGrant)
	r.With(h.AdminOnly).Get("/api/admin/credits/{userID}", h.HandleAdminBalance)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/credits/%20github:88%20/grant", bytes.NewBufferString(`{"amount":4}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var granted handler.BalanceResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&granted))
	assert.Equal(t, "github:88", granted.UserID)
	assert.Equal(t, int64(4), granted.Credits)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/credits/%20github:88", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var read handler.BalanceResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&read))
	assert.Equal(t, "github:88", read.UserID)
	assert.Equal(t, int64(4), read.Credits)
}

// =========================================================================
// END-TO-END GATE TEST
// =========================================================================

// TestDebitEndpoint_ThroughRealGateway runs the whole chain: token cookie →
// OptionalAuth → CreditGate → sqlite ledger.
func TestDebitEndpoint_ThroughRealGateway(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)

	ledger := service.NewLedgerService(db, time.Second, testLogger(), nil)
	gateway := service.NewAccessGateway(auth.ContextResolver{}, auth.NewAdminPredicate("ops@example.com"), ledger, nil, testLogger(), nil)
	h := handler.NewCreditHandler(gateway, ledger, testLogger())

	r := chi.NewRouter()
	r.Use(auth.OptionalAuth(tokens))
	r.With(h.CreditGate("credits.debit")).Post("/api/credits/debit", h.HandleDebit)

	_, err = ledger.Grant(context.Background(), "github:1", 1)
	require.NoError(t, err)
	token, err := tokens.Generate(model.NewPrincipal("github:1", "user@example.com"))
	require.NoError(t, err)

	call := func(withToken bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/credits/debit", nil)
		if withToken {
			req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: token})
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, call(false).Code)

	first := call(true)
	require.Equal(t, http.StatusOK, first.Code)
	var res handler.DebitResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&res))
	assert.Equal(t, handler.DebitResponse{OK: true, Remaining: 0}, res)

	second := call(true)
	assert.Equal(t, http.StatusPaymentRequired, second.Code)
	assert.Equal(t, "insufficient_credit", decodeError(t, second.Body).Error)
}
