package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fieldsync/internal/config"
	"fieldsync/internal/logger"
)

// Scheduler periodically retries the queue so parked work drains even when
// no reconnect event ever fires.
type Scheduler struct {
	cfg     config.SchedulerConfig
	orch    *Orchestrator
	pending func(ctx context.Context) (int, error)
	cron    *cron.Cron
	entryID cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, orch *Orchestrator, pending func(ctx context.Context) (int, error)) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		orch:    orch,
		pending: pending,
		cron:    cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerDrain()
	})
	if err != nil {
		logger.Log.Error("Failed to schedule drain", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerDrain() {
	count, err := s.pending(context.Background())
	if err != nil {
		logger.Log.Error("Failed to count pending mutations", zap.Error(err))
		return
	}
	if count == 0 {
		return
	}

	if err := s.orch.StartDrain(); err != nil {
		if errors.Is(err, ErrNotOnline) {
			logger.Log.Debug("Skipping scheduled drain, not online")
			return
		}
		logger.Log.Error("Failed to start scheduled drain", zap.Error(err))
	}
}
