package recheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/postgres"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
)

// StatusFetcher asks the provider for the authoritative status of one
// reference, same call the webhook path makes.
type StatusFetcher interface {
	FetchByReference(ctx context.Context, ref string) (paymentsvc.Event, error)
}

// Reconciler is the single mutation path; the job never writes to the
// ledger directly.
type Reconciler interface {
	Reconcile(ctx context.Context, ev paymentsvc.Event) (paymentsvc.ReconcileResult, error)
}

type PendingLister interface {
	ListStalePending(ctx context.Context, provider string, olderThan time.Time, limit int) ([]pgrepo.PurchaseRecord, error)
}

// Job periodically re-fetches purchases stuck in pending, covering for
// webhook deliveries that never arrived or were lost to a transient failure.
type Job struct {
	lister     PendingLister
	fetcher    StatusFetcher
	reconciler Reconciler
	provider   string
	minAge     time.Duration
	batchLimit int
	now        func() time.Time
	logger     *zap.Logger
}

func New(lister PendingLister, fetcher StatusFetcher, reconciler Reconciler, provider string, minAge time.Duration, batchLimit int, logger *zap.Logger) *Job {
	if minAge <= 0 {
		minAge = 5 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		lister:     lister,
		fetcher:    fetcher,
		reconciler: reconciler,
		provider:   provider,
		minAge:     minAge,
		batchLimit: batchLimit,
		now:        time.Now,
		logger:     logger,
	}
}

// Run performs one sweep. A fetch failure skips that record only; the next
// sweep picks it up again.
func (j *Job) Run(ctx context.Context) error {
	if j.lister == nil || j.fetcher == nil || j.reconciler == nil {
		return nil
	}

	cutoff := j.now().Add(-j.minAge)
	records, err := j.lister.ListStalePending(ctx, j.provider, cutoff, j.batchLimit)
	if err != nil {
		return fmt.Errorf("list stale pending purchases: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var applied int
	for _, rec := range records {
		if rec.ProviderReference == nil {
			continue
		}
		ref := *rec.ProviderReference

		event, err := j.fetcher.FetchByReference(ctx, ref)
		if err != nil {
			if errors.Is(err, providers.ErrStatusFetchFailed) {
				j.logger.Warn("recheck status fetch failed",
					zap.String("record_id", rec.ID),
					zap.String("provider_ref", ref),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("fetch status for %s: %w", ref, err)
		}
		event.Provider = j.provider
		event.ProviderRef = ref

		result, err := j.reconciler.Reconcile(ctx, event)
		if err != nil {
			j.logger.Error("recheck reconciliation failed",
				zap.String("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		if result.Outcome == paymentsvc.OutcomeApplied {
			applied++
		}
	}

	if applied > 0 {
		j.logger.Info("recheck sweep completed",
			zap.Int("checked", len(records)),
			zap.Int("applied", applied))
	}
	return nil
}

// Loop runs sweeps on the given interval until ctx is done.
func (j *Job) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("recheck sweep failed", zap.Error(err))
			}
		}
	}
}
