// Package service contains the business logic layer: the credit ledger, the
// usage auditor and the access gateway that composes them.
//
// Handlers call services; services call repositories through the interfaces
// in internal/repository. Nothing in this package knows about HTTP or SQL.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/metrics"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

// DefaultStorageTimeout bounds every ledger round-trip when no timeout is
// configured.
const DefaultStorageTimeout = 3 * time.Second

// LedgerService validates ledger requests and bounds each storage call.
//
// Atomicity is the repository's job: each Grant and Debit is one statement
// (or one Lua script) in the backing store. This layer never reads a balance
// to decide a write.
type LedgerService struct {
	repo    repository.CreditRepository
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLedgerService creates a LedgerService. A non-positive timeout falls back
// to DefaultStorageTimeout. m may be nil.
func NewLedgerService(repo repository.CreditRepository, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *LedgerService {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &LedgerService{
		repo:    repo,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// GetBalance returns the user's credits, 0 when the user has never been
// granted any.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	credits, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, s.storageFailed("get_balance", userID, err)
	}
	s.metrics.LedgerOp("get_balance", metrics.ResultOK)
	return credits, nil
}

// Grant adds amount credits and returns the new balance. amount must be
// positive; refunds and corrections are not modelled as negative grants. A
// grant the store refuses because the balance would overflow is returned as
// ErrValidation with nothing changed.
func (s *LedgerService) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperror.ValidationFailed("amount", "amount must be greater than zero")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	credits, err := s.repo.Grant(ctx, userID, amount)
	if errors.Is(err, apperror.ErrValidation) {
		s.metrics.LedgerOp("grant", metrics.ResultRefused)
		s.logger.Warn("grant rejected by store",
			slog.String("userID", userID),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	if err != nil {
		return 0, s.storageFailed("grant", userID, err)
	}

	s.metrics.LedgerOp("grant", metrics.ResultOK)
	s.logger.Info("credits granted",
		slog.String("userID", userID),
		slog.Int64("amount", amount),
		slog.Int64("balance", credits),
	)
	return credits, nil
}

// Debit consumes exactly one credit if available.
func (s *LedgerService) Debit(ctx context.Context, userID string) (model.DebitResult, error) {
	return s.DebitN(ctx, userID, 1)
}

// DebitN consumes amount credits if, and only if, the balance covers all of
// them. A refused debit is DebitResult{OK: false, Remaining: 0} with a nil
// error; an unreachable store is an error and nothing is known about the
// balance.
func (s *LedgerService) DebitN(ctx context.Context, userID string, amount int64) (model.DebitResult, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return model.DebitResult{}, err
	}
	if amount <= 0 {
		return model.DebitResult{}, apperror.ValidationFailed("amount", "amount must be greater than zero")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		return model.DebitResult{}, s.storageFailed("debit", userID, err)
	}

	if !res.OK {
		s.metrics.LedgerOp("debit", metrics.ResultRefused)
		s.logger.Debug("debit refused", slog.String("userID", userID), slog.Int64("amount", amount))
		return model.DebitResult{OK: false, Remaining: 0}, nil
	}

	s.metrics.LedgerOp("debit", metrics.ResultOK)
	return res, nil
}

// storageFailed logs and counts a failed round-trip and guarantees the
// returned error classifies as ErrStorageUnavailable.
func (s *LedgerService) storageFailed(op, userID string, err error) error {
	if !errors.Is(err, apperror.ErrStorageUnavailable) {
		err = apperror.StorageUnavailable(op, err)
	}
	s.metrics.LedgerOp(op, metrics.ResultError)
	s.logger.Error("ledger storage failure",
		slog.String("op", op),
		slog.String("userID", userID),
		slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
		slog.String("error", err.Error()),
	)
	return err
}

func validateUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperror.ValidationFailed("userId", "user id is required")
	}
	return userID, nil
}
