// Package reconciler repairs jobs that stopped making progress. A job stuck
// in pending or processing far past any plausible redelivery window means
// its message was lost or dead-lettered; the sweeper fails such rows so
// clients are not left polling forever.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/careerassist-ai/careerassist/constants"
	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/metrics"
	"github.com/careerassist-ai/careerassist/internal/repository"
)

const staleMessage = "job timed out: no progress recorded within the recovery window"

// Sweeper periodically scans for non-terminal jobs whose updated_at has
// gone stale and fails them terminally.
type Sweeper struct {
	store    repository.JobStore
	log      *slog.Logger
	m        *metrics.Metrics
	interval time.Duration
	after    time.Duration
}

func NewSweeper(store repository.JobStore, log *slog.Logger, m *metrics.Metrics, interval, after time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, log: log, m: m, interval: interval, after: after}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("sweeper started", "interval", s.interval, "stale_after", s.after)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every currently stale job. Stale pending rows (start
// message lost before any consumer claimed them) are claimed first, since
// Fail is only legal from processing. Every write is status-guarded, so a
// job that resumed between the scan and the write is left alone.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	stale, err := s.store.FindStale(ctx, s.after)
	if err != nil {
		s.log.Error("stale scan failed", "error", err)
		return
	}
	for _, job := range stale {
		if job.Status == constants.JobStatusPending {
			err := s.store.Transition(ctx, job.ID, constants.JobStatusPending, constants.JobStatusProcessing)
			if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) {
				continue // a consumer got to it after all
			}
			if err != nil {
				s.log.Error("sweep claim failed", "job_id", job.ID, "error", err)
				continue
			}
		}
		err := s.store.Fail(ctx, job.ID, staleMessage)
		if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Error("sweep fail write failed", "job_id", job.ID, "error", err)
			continue
		}
		s.m.IncSwept()
		s.log.Warn("stale job failed by sweeper",
			"job_id", job.ID,
			"job_type", job.JobType,
			"updated_at", job.UpdatedAt,
		)
	}
}
