// Package scheduler runs the periodic maintenance jobs of the service: the
// stale-ticket scan that feeds the ncr_stale_tickets gauge and the purge of
// expired idempotency records.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-ncr-backend/internal/observability"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// Options configures the jobs. Empty specs disable the matching job.
type Options struct {
	StaleSpec  string        // cron spec of the stale scan, e.g. "*/15 * * * *"
	PurgeSpec  string        // cron spec of the idempotency purge, e.g. "@hourly"
	StaleAfter time.Duration // open tickets untouched this long are stale
	JobTimeout time.Duration // per-run deadline, 1m when zero
	Location   *time.Location
	Now        func() time.Time
}

// Scheduler owns a cron engine and the jobs registered on it.
type Scheduler struct {
	engine *cron.Cron
	db     *gorm.DB
	opts   Options
	logger zerolog.Logger
}

// New builds a scheduler over db. Jobs are registered by Start.
func New(db *gorm.DB, opts Options) *Scheduler {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := cronLogger{log.With().Str("component", "scheduler").Logger()}
	return &Scheduler{
		engine: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		db:     db,
		opts:   opts,
		logger: l.z,
	}
}

// Start registers the configured jobs and starts the engine. An invalid spec
// is returned as an error and nothing is started.
func (s *Scheduler) Start() error {
	if s.opts.StaleSpec != "" {
		if _, err := s.engine.AddFunc(s.opts.StaleSpec, s.runStaleScan); err != nil {
			return fmt.Errorf("stale scan job: %w", err)
		}
	}
	if s.opts.PurgeSpec != "" {
		if _, err := s.engine.AddFunc(s.opts.PurgeSpec, s.runPurge); err != nil {
			return fmt.Errorf("idempotency purge job: %w", err)
		}
	}
	s.engine.Start()
	s.logger.Info().
		Str("stale_spec", s.opts.StaleSpec).
		Str("purge_spec", s.opts.PurgeSpec).
		Int("jobs", len(s.engine.Entries())).
		Msg("scheduler started")
	return nil
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.engine.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn().Err(ctx.Err()).Msg("scheduler stop timed out")
	}
}

// ScanStale counts non-terminal tickets per status whose last update is
// older than StaleAfter and publishes the counts on the stale gauge.
func (s *Scheduler) ScanStale(ctx context.Context) (map[string]int64, error) {
	cutoff := s.opts.Now().Add(-s.opts.StaleAfter)
	excluded := []string{string(workflow.StatusDone), string(workflow.StatusCancelled)}
	counts, err := repo.StaleCounts(ctx, s.db, cutoff, excluded)
	if err != nil {
		return nil, err
	}
	observability.SetStaleTickets(counts)
	return counts, nil
}

// PurgeIdempotency deletes expired idempotency records.
func (s *Scheduler) PurgeIdempotency(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.db, s.opts.Now())
}

func (s *Scheduler) runStaleScan() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()
	counts, err := s.ScanStale(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("stale scan failed")
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	ev := s.logger.Info()
	if total > 0 {
		ev = s.logger.Warn()
	}
	ev.Int64("stale", total).Dur("after", s.opts.StaleAfter).Msg("stale scan")
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()
	n, err := s.PurgeIdempotency(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("idempotency purge failed")
		return
	}
	s.logger.Debug().Int64("deleted", n).Msg("idempotency purge")
}

// cronLogger routes the engine's own messages through zerolog.
type cronLogger struct{ z zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.z.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.z.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
