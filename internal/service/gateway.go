package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/auth"
	"github.com/sakif/docmeter/internal/metrics"
	"github.com/sakif/docmeter/internal/model"
)

// IdentityResolver finds the caller of a request. false means anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context) (model.Principal, bool)
}

// AdminChecker decides whether an email belongs to the operator.
type AdminChecker interface {
	IsAdmin(email *string) bool
}

// CreditDebiter consumes one credit atomically.
type CreditDebiter interface {
	Debit(ctx context.Context, userID string) (model.DebitResult, error)
}

// UsageRecorder accepts usage events without blocking.
type UsageRecorder interface {
	Record(event model.UsageEvent)
}

// DenyReason tells the caller what to do next: sign in, buy credits, or retry
// later.
type DenyReason string

const (
	ReasonUnauthorized       DenyReason = "unauthorized"
	ReasonForbidden          DenyReason = "forbidden"
	ReasonInsufficientCredit DenyReason = "insufficient_credit"
	ReasonStorageUnavailable DenyReason = "storage_unavailable"
)

// Decision is the outcome of one gate. Reason is empty when Allowed.
// Remaining is only meaningful for an allowed credit gate.
type Decision struct {
	Allowed   bool
	Remaining int64
	Reason    DenyReason
	Principal model.Principal
}

func allow(p model.Principal, remaining int64) Decision {
	return Decision{Allowed: true, Remaining: remaining, Principal: p}
}

func deny(p model.Principal, reason DenyReason) Decision {
	return Decision{Reason: reason, Principal: p}
}

// Err converts a deny into the matching apperror, nil for an allow.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthorized:
		return apperror.Unauthorized("sign in required")
	case d.Reason == ReasonForbidden:
		return apperror.Forbidden("operator access required")
	case d.Reason == ReasonInsufficientCredit:
		return apperror.InsufficientCredit(d.Principal.ID)
	default:
		return apperror.StorageUnavailable("credit check", nil)
	}
}

// AccessGateway composes identity, the admin predicate, the ledger and the
// auditor into the two gates guarding protected operations.
//
// Both gates fail closed: any condition that cannot be confirmed is a deny.
type AccessGateway struct {
	identity IdentityResolver
	admin    AdminChecker
	ledger   CreditDebiter
	audit    UsageRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAccessGateway wires a gateway. audit and m may be nil.
func NewAccessGateway(identity IdentityResolver, admin AdminChecker, ledger CreditDebiter, audit UsageRecorder, logger *slog.Logger, m *metrics.Metrics) *AccessGateway {
	return &AccessGateway{
		identity: identity,
		admin:    admin,
		ledger:   ledger,
		audit:    audit,
		logger:   logger,
		metrics:  m,
	}
}

// RequireAdmin allows only the configured operator.
func (g *AccessGateway) RequireAdmin(ctx context.Context) Decision {
	p, ok := g.identity.Resolve(ctx)
	if !ok {
		return g.decided("admin", deny(p, ReasonUnauthorized))
	}
	if !g.admin.IsAdmin(p.Email) {
		g.logger.Warn("admin access denied", slog.String("userID", p.ID))
		return g.decided("admin", deny(p, ReasonForbidden))
	}
	return g.decided("admin", allow(p, 0))
}

// RequireCredit consumes one credit for endpoint. The debit is the
// admission check itself; there is no separate balance read.
//
// Once the decision is final, an attempt by a resolved principal is handed
// to the auditor. The auditor never blocks, so audit trouble cannot change or
// delay the decision.
func (g *AccessGateway) RequireCredit(ctx context.Context, endpoint string) Decision {
	p, ok := g.identity.Resolve(ctx)
	if !ok {
		return g.decided("credit", deny(p, ReasonUnauthorized))
	}

	var d Decision
	res, err := g.ledger.Debit(ctx, p.ID)
	switch {
	case errors.Is(err, apperror.ErrValidation):
		// A subject that is blank after trimming names nobody; there is no
		// user to charge or to attribute an audit event to.
		g.logger.Warn("credit gate: unusable principal id", slog.String("endpoint", endpoint))
		return g.decided("credit", deny(p, ReasonUnauthorized))
	case err != nil:
		g.logger.Error("credit gate failed closed",
			slog.String("userID", p.ID),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		d = deny(p, ReasonStorageUnavailable)
	case !res.OK:
		d = deny(p, ReasonInsufficientCredit)
	default:
		d = allow(p, res.Remaining)
	}

	g.record(ctx, endpoint, d)
	return g.decided("credit", d)
}

func (g *AccessGateway) record(ctx context.Context, endpoint string, d Decision) {
	if g.audit == nil {
		return
	}

	event := model.UsageEvent{
		UserID:     d.Principal.ID,
		Endpoint:   endpoint,
		StatusCode: d.Status(),
	}
	if d.Allowed {
		event.CreditsConsumed = 1
	}
	if org, ok := auth.OrgIDFromContext(ctx); ok {
		event.OrgID = &org
	}
	g.audit.Record(event)
}

func (g *AccessGateway) decided(gate string, d Decision) Decision {
	outcome := metrics.ResultAllow
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	g.metrics.GateDecision(gate, outcome)
	return d
}

// Status is the HTTP status a caller sees for d.
func (d Decision) Status() int {
	switch {
	case d.Allowed:
		return http.StatusOK
	case d.Reason == ReasonUnauthorized:
		return http.StatusUnauthorized
	case d.Reason == ReasonForbidden:
		return http.StatusForbidden
	case d.Reason == ReasonInsufficientCredit:
		return http.StatusPaymentRequired
	default:
		return http.StatusServiceUnavailable
	}
}
