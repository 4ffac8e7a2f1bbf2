package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mgmtsuite/mailsync/internal/store"
)

// Scheduler periodically syncs the inbox of every enabled account. It is
// one of two trigger sources; the other is the manual API call. Both go
// through the same engine and its per-account guard, so overlapping
// triggers resolve to one running sync and one busy result.
type Scheduler struct {
	engine   *Engine
	store    *store.Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(engine *Engine, st *store.Store, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		store:    st,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop signals the loop and waits for the current pass to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("Sync scheduler started")

	for {
		select {
		case <-ticker.C:
			s.runAll(ctx)
		case <-s.stop:
			log.Info().Msg("Sync scheduler stopped")
			return
		case <-ctx.Done():
			log.Info().Msg("Sync scheduler stopped")
			return
		}
	}
}

// RunAll syncs every enabled account once. Also used by the -sync
// one-shot CLI mode.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.runAll(ctx)
}

func (s *Scheduler) runAll(ctx context.Context) {
	accounts, err := s.store.ListEnabledAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list accounts for scheduled sync")
		return
	}

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}

		result, err := s.engine.Run(ctx, account.ID, store.FolderInbox, 0)
		if err != nil {
			log.Warn().Err(err).Int64("accountId", account.ID).Msg("Scheduled sync failed")
			continue
		}
		if result.Busy {
			log.Debug().Int64("accountId", account.ID).Msg("Scheduled sync skipped, already running")
		}
	}
}
