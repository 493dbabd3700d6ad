package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticketry/dispute-api/internal/service/dispute"
	"github.com/ticketry/dispute-api/pkg/logger"
	"github.com/ticketry/dispute-api/pkg/metrics"
)

type ReminderSweeperConfig struct {
	Interval time.Duration
}

// ReminderSweeper periodically nudges complainants whose disputes
// have gone quiet. The sweep itself is a pure function of "now" and
// store state; this wrapper only supplies the timer.
type ReminderSweeper struct {
	disputeSvc dispute.Service
	config     ReminderSweeperConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewReminderSweeper(disputeSvc dispute.Service, config ReminderSweeperConfig, logger *logger.Logger, metrics *metrics.Metrics) *ReminderSweeper {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	return &ReminderSweeper{
		disputeSvc: disputeSvc,
		config:     config,
		logger:     logger,
		metrics:    metrics,
	}
}

func (w *ReminderSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("starting reminder sweeper")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down reminder sweeper")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReminderSweeper) runOnce(ctx context.Context) {
	timer := prometheus.NewTimer(w.metrics.ReminderSweepLatency)
	defer timer.ObserveDuration()

	created, err := w.disputeSvc.ScheduleReminders(ctx)
	if err != nil {
		w.logger.Error(err, "reminder sweep failed")
		return
	}
	if created > 0 {
		w.logger.Info("reminder sweep complete", "reminders", created)
	}
}
