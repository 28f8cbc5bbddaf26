package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
	"invoice-extraction-pipeline/internal/infra/metrics"
	red "invoice-extraction-pipeline/internal/infra/redis"
)

const sweepLockKey = "lock:stale_job_sweep"

// StaleReconciler fails jobs stuck in 'running' past the configured TTL. A
// killed worker leaves its job running forever otherwise, since the ledger
// carries no heartbeat. The TTL is an explicit policy setting with no
// default. The sweep runs under a redis lock so one instance acts at a time.
type StaleReconciler struct {
	interval time.Duration
	ttl      time.Duration
	jobs     repository.JobRepository
	locker   red.Locker
	log      *zerolog.Logger
}

func NewStaleReconciler(interval, ttl time.Duration, jobs repository.JobRepository, locker red.Locker, logger *zerolog.Logger) *StaleReconciler {
	l := logger.With().Str("component", "StaleReconciler").Logger()
	return &StaleReconciler{interval: interval, ttl: ttl, jobs: jobs, locker: locker, log: &l}
}

func (w *StaleReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("ttl", w.ttl).Msg("starting stale reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping stale reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *StaleReconciler) sweep(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			w.log.Warn().Err(err).Msg("sweep lock")
		}
		return
	}
	defer func() { _ = w.locker.Unlock(ctx, sweepLockKey, token) }()

	n, err := w.jobs.FailStale(ctx, w.ttl)
	if err != nil {
		w.log.Error().Err(err).Msg("stale sweep failed")
		return
	}
	if n > 0 {
		metrics.AddStaleFailed(n)
		w.log.Warn().Int("count", n).Msg("stale jobs failed")
	}
}
