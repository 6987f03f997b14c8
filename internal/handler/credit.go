package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/auth"
	"github.com/sakif/docmeter/internal/service"
)

// Gate is the access gateway as seen by HTTP.
type Gate interface {
	RequireAdmin(ctx context.Context) service.Decision
	RequireCredit(ctx context.Context, endpoint string) service.Decision
}

// Ledger is the read and grant side of the credit ledger. Debits only
// happen through the Gate.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	Grant(ctx context.Context, userID string, amount int64) (int64, error)
}

type remainingKey struct{}

// remainingFromContext returns the balance left after the credit gate's
// debit. Only set on requests that passed CreditGate.
func remainingFromContext(ctx context.Context) int64 {
	n, _ := ctx.Value(remainingKey{}).(int64)
	return n
}

// BalanceResponse is returned by the balance endpoints.
type BalanceResponse struct {
	UserID  string `json:"userId"`
	Credits int64  `json:"credits"`
}

// DebitResponse is returned after a credit was consumed.
type DebitResponse struct {
	OK        bool  `json:"ok"`
	Remaining int64 `json:"remaining"`
}

// ExtractResponse acknowledges a paid extraction request.
type ExtractResponse struct {
	Status    string `json:"status"`
	Remaining int64  `json:"remaining"`
}

// GrantRequest is the body of POST /api/admin/credits/{userID}/grant.
type GrantRequest struct {
	Amount int64 `json:"amount"`
}

// CreditHandler serves the ledger endpoints and provides the gate
// middlewares that guard them.
type CreditHandler struct {
	gate   Gate
	ledger Ledger
	logger *slog.Logger
}

func NewCreditHandler(gate Gate, ledger Ledger, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{
		gate:   gate,
		ledger: ledger,
		logger: logger,
	}
}

// AdminOnly lets only the operator through.
func (h *CreditHandler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := h.gate.RequireAdmin(r.Context())
		if !d.Allowed {
			writeDecision(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreditGate charges one credit for endpoint before next runs. A denied
// request never reaches next.
func (h *CreditHandler) CreditGate(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := h.gate.RequireCredit(r.Context(), endpoint)
			if !d.Allowed {
				writeDecision(w, d)
				return
			}
			ctx := context.WithValue(r.Context(), remainingKey{}, d.Remaining)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleBalance returns the caller's own balance.
//
// HTTP: GET /api/credits
// Auth: Required
func (h *CreditHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("sign in required"))
		return
	}

	credits, err := h.ledger.GetBalance(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: p.ID, Credits: credits})
}

// HandleDebit reports the result of the debit CreditGate already made.
//
// HTTP: POST /api/credits/debit
// Gate: CreditGate("credits.debit")
func (h *CreditHandler) HandleDebit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DebitResponse{OK: true, Remaining: remainingFromContext(r.Context())})
}

// HandleExtract accepts a paid document extraction. The extraction runs
// elsewhere; this endpoint only admits and charges for it.
//
// HTTP: POST /api/documents/extract
// Gate: CreditGate("documents.extract")
func (h *CreditHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, ExtractResponse{
		Status:    "accepted",
		Remaining: remainingFromContext(r.Context()),
	})
}

// HandleAdminBalance returns any user's balance.
//
// HTTP: GET /api/admin/credits/{userID}
// Gate: AdminOnly
func (h *CreditHandler) HandleAdminBalance(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)

	credits, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Credits: credits})
}

// HandleAdminGrant adds credits to a user.
//
// HTTP: POST /api/admin/credits/{userID}/grant
// Gate: AdminOnly
// Body: {"amount": 10}
func (h *CreditHandler) HandleAdminGrant(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "request body must be JSON like {\"amount\": 10}"))
		return
	}

	credits, err := h.ledger.Grant(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	admin, _ := auth.PrincipalFromContext(r.Context())
	h.logger.Info("admin grant",
		slog.String("adminID", admin.ID),
		slog.String("userID", userID),
		slog.Int64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Credits: credits})
}

// pathUserID is the {userID} route parameter trimmed the way the ledger trims
// it, so responses name the row that was actually read or written.
func pathUserID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userID"))
}
