// Package scheduler runs the periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"warehouse-backend/internal/borrow"
	"warehouse-backend/internal/config"
	"warehouse-backend/internal/jubelio"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobTimeout  = 2 * time.Minute
	stopTimeout = 30 * time.Second
)

type Scheduler struct {
	cron    *cron.Cron
	db      *gorm.DB
	jubelio *jubelio.Client
	cfg     *config.Config
	logger  *zap.Logger
}

// New builds a scheduler. client may be nil when the ERP relay is disabled.
func New(cfg *config.Config, db *gorm.DB, client *jubelio.Client, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cron.DiscardLogger), cron.WithChain(cron.Recover(cron.DiscardLogger))),
		db:      db,
		jubelio: client,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
	}
}

// Start registers the jobs and starts the cron loop. An invalid schedule is
// reported before anything runs.
func (s *Scheduler) Start() error {
	if s.cfg.OverdueCheckCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.OverdueCheckCron, s.flagOverdue); err != nil {
			return fmt.Errorf("overdue check schedule %q: %w", s.cfg.OverdueCheckCron, err)
		}
	}
	if expr := s.cfg.Jubelio.SyncCron; expr != "" {
		if s.jubelio == nil {
			return fmt.Errorf("jubelio sync schedule %q: %w", expr, jubelio.ErrNotConfigured)
		}
		if _, err := s.cron.AddFunc(expr, s.syncStock); err != nil {
			return fmt.Errorf("jubelio sync schedule %q: %w", expr, err)
		}
	}

	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
	return nil
}

// Stop stops the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("scheduler jobs still running after stop timeout")
	}
}

func (s *Scheduler) flagOverdue() {
	n, err := borrow.FlagOverdue(s.db, time.Now())
	if err != nil {
		s.logger.Error("failed to flag overdue loans", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("flagged overdue loans", zap.Int64("count", n))
	}
}

func (s *Scheduler) syncStock() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	lines, res, err := jubelio.Sync(ctx, s.db, s.jubelio)
	if err != nil {
		s.logger.Error("jubelio stock sync failed", zap.Error(err))
		return
	}
	if res.OK() {
		s.logger.Info("jubelio stock sync sent", zap.Int("lines", lines), zap.Int("status", res.Status))
	}
}
