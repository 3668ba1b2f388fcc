// Package scheduler runs the daemon's periodic background tasks: a
// recurring status snapshot in the log and a daily moderation summary.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/server"
	"github.com/spile-project/spile/internal/util"
)

const (
	statusInterval  = 15 * time.Minute
	summaryInterval = 24 * time.Hour
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	orch  *server.Orchestrator
	store *db.Database
}

// NewScheduler creates a new task scheduler.
func NewScheduler(orch *server.Orchestrator, store *db.Database) *Scheduler {
	return &Scheduler{orch: orch, store: store}
}

// Start begins running all scheduled tasks and blocks until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runStatusLoop(ctx)
	go s.runSummaryLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runStatusLoop periodically writes a status snapshot to the log.
func (s *Scheduler) runStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Scheduler) logStatus() {
	entry := log.Info().
		Str("state", s.orch.State().String()).
		Dur("uptime", s.orch.Uptime().Round(time.Second)).
		Int("sessions", s.orch.SessionCount())

	for _, l := range s.orch.Listeners() {
		entry = entry.Int(l.Proto()+"_sessions", l.Sessions().Count())
	}

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		entry = entry.Float64("cpu_percent", cpuPct)
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		entry = entry.Float64("memory_percent", mem.UsedPercent)
	}

	entry.Msg("status snapshot")
}

// runSummaryLoop writes a daily moderation summary.
func (s *Scheduler) runSummaryLoop(ctx context.Context) {
	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logSummary()
		}
	}
}

func (s *Scheduler) logSummary() {
	bans, err := s.store.Bans()
	if err != nil {
		log.Warn().Err(err).Msg("daily summary: read bans failed")
		return
	}
	ops, err := s.store.Operators()
	if err != nil {
		log.Warn().Err(err).Msg("daily summary: read operators failed")
		return
	}

	log.Info().
		Int("bans", len(bans)).
		Int("operators", len(ops)).
		Msg("daily moderation summary")
}
