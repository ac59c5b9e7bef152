package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/billgate/billgate/domain/billing"
	"github.com/billgate/billgate/domain/budget"
	"github.com/billgate/billgate/domain/quota"
	"github.com/billgate/billgate/ports"
)

// QuotaExceededError is a designed outcome: the account ran out of
// included units. Callers turn it into an upgrade prompt.
type QuotaExceededError struct {
	Result quota.CheckResult
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage limit reached: %d of %d units used on the %s tier",
		e.Result.Used, e.Result.Limit, e.Result.Tier)
}

// BudgetExceededError is a designed outcome: a spend cap is tripped and
// paid work is paused until the window rolls over.
type BudgetExceededError struct {
	Decision budget.Decision
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("spending cap reached (%s layer), try again later", e.Decision.Layer)
}

// WorkService runs one unit of paid work behind the metering gate and
// the cost breaker. Nothing is counted or tracked until the executor
// returns; an abort mid-flight costs the caller nothing.
type WorkService struct {
	store     ports.DataStore
	usage     *UsageService
	breaker   *BreakerService
	reporting *ReportingService
	executor  ports.WorkExecutor
	idGen     ports.IDGenerator
	clock     ports.Clock
	logger    zerolog.Logger
}

// NewWorkService creates a paid-work orchestrator.
func NewWorkService(
	store ports.DataStore,
	usage *UsageService,
	breaker *BreakerService,
	reporting *ReportingService,
	executor ports.WorkExecutor,
	idGen ports.IDGenerator,
	clock ports.Clock,
	logger zerolog.Logger,
) *WorkService {
	return &WorkService{
		store:     store,
		usage:     usage,
		breaker:   breaker,
		reporting: reporting,
		executor:  executor,
		idGen:     idGen,
		clock:     clock,
		logger:    logger,
	}
}

// Do gates, executes, and accounts for one unit of paid work. The
// sequence is fixed: quota gate, cost breaker, execute, count, track,
// persist, report. Reporting runs after the result is final and can
// never fail the request.
func (s *WorkService) Do(ctx context.Context, req ports.WorkRequest) (ports.WorkResult, error) {
	check, err := s.usage.Check(ctx, req.AccountID)
	if err != nil {
		return ports.WorkResult{}, err
	}
	if !check.Allowed {
		return ports.WorkResult{}, &QuotaExceededError{Result: check}
	}

	if d := s.breaker.Check(ctx, req.AccountID); !d.Allowed {
		return ports.WorkResult{}, &BudgetExceededError{Decision: d}
	}

	res, err := s.executor.Execute(ctx, req)
	if err != nil {
		return ports.WorkResult{}, err
	}

	if _, err := s.usage.Increment(ctx, req.AccountID); err != nil {
		// The work is done and the response exists; losing one count is
		// better than failing the caller now.
		s.logger.Error().Err(err).
			Str("account_id", req.AccountID).
			Msg("failed to count completed unit")
	}

	s.breaker.Track(ctx, req.AccountID, res.CostCents)

	unit := billing.UsageUnit{
		ID:        s.idGen.New(),
		AccountID: req.AccountID,
		CostCents: res.CostCents,
		Tokens:    res.Tokens,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.Units().Create(ctx, unit); err != nil {
		s.logger.Error().Err(err).
			Str("account_id", req.AccountID).
			Msg("failed to persist usage unit")
		return res, nil
	}

	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.reporting.ReportUnit(rctx, unit.ID)
	}()

	return res, nil
}
