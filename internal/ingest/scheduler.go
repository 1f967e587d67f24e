package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatvector/internal/logging"
)

// Scheduler fires Worker.Ingest every interval and once at startup,
// coalescing concurrent trigger requests into at most one pending run
// (spec §4.6's "Scheduler").
type Scheduler struct {
	worker   *Worker
	channels []string
	interval time.Duration
	log      zerolog.Logger

	running atomic.Bool
	pending atomic.Bool
}

// NewScheduler constructs a Scheduler for channels, firing every interval.
func NewScheduler(worker *Worker, channels []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		worker:   worker,
		channels: channels,
		interval: interval,
		log:      logging.For("ingest-scheduler"),
	}
}

// Run blocks until ctx is cancelled, firing an ingestion run at startup and
// then on every tick of interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.Trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger starts a run immediately unless one is already in flight, in
// which case it marks a pending run to start right after the current one
// finishes (coalesced: multiple triggers while busy still yield only one
// extra run).
func (s *Scheduler) Trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.pending.Store(true)
		return
	}
	go s.runLoop(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.running.Store(false)
	for {
		report := s.worker.Ingest(ctx, s.channels)
		s.log.Debug().Str("run_id", report.RunID).Msg("scheduled ingestion run finished")
		if !s.pending.CompareAndSwap(true, false) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
