package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linklet-app/linklet/pkg/logger"
)

// SweepConfig holds the periodic-job schedules. Cron expressions use the
// standard five-field format.
type SweepConfig struct {
	ApplySchedule  string        `env:"ENTITLEMENT_SWEEP_SCHEDULE" envDefault:"*/5 * * * *"`
	PruneSchedule  string        `env:"ENTITLEMENT_PRUNE_SCHEDULE" envDefault:"30 4 * * *"`
	EventRetention time.Duration `env:"ENTITLEMENT_EVENT_RETENTION" envDefault:"720h"`
}

// Sweep runs the deferred-change applier and the processed-event pruner on
// cron schedules. Applying is idempotent, so overlapping or repeated runs
// are safe.
type Sweep struct {
	cron   *cron.Cron
	engine *Engine
	store  Store
	cfg    SweepConfig
	log    *slog.Logger
}

// NewSweep wires the periodic jobs. Start must be called to begin.
func NewSweep(engine *Engine, store Store, cfg SweepConfig, log *slog.Logger) *Sweep {
	if engine == nil {
		panic("entitlement: engine is required")
	}
	if store == nil {
		panic("entitlement: store is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	return &Sweep{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger))),
		engine: engine,
		store:  store,
		cfg:    cfg,
		log:    log,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Sweep) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ApplySchedule, s.applyDue); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, s.pruneEvents); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("entitlement sweep started",
		slog.String("apply_schedule", s.cfg.ApplySchedule),
		slog.String("prune_schedule", s.cfg.PruneSchedule))
	return nil
}

// Stop stops the scheduler and returns a context that is done once any
// running job finishes.
func (s *Sweep) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Sweep) applyDue() {
	ctx := context.Background()
	applied, err := s.engine.ApplyDueChanges(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to apply due scheduled changes", logger.Error(err))
		return
	}
	if applied > 0 {
		s.log.InfoContext(ctx, "applied due scheduled changes", slog.Int("applied", applied))
	}
}

func (s *Sweep) pruneEvents() {
	ctx := context.Background()
	pruned, err := s.store.PruneEvents(ctx, time.Now().Add(-s.cfg.EventRetention))
	if err != nil {
		s.log.ErrorContext(ctx, "failed to prune processed events", logger.Error(err))
		return
	}
	if pruned > 0 {
		s.log.InfoContext(ctx, "pruned processed provider events", slog.Int64("pruned", pruned))
	}
}
