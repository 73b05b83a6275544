// Package scheduler runs periodic housekeeping and diagnostics passes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

const DefaultSchedule = "0 0 * * * *"

// Observer receives the outcome of every pass.
type Observer interface {
	ObserveCleanup(result domain.CleanupResult, err error)
	ObserveDiagnostics(report domain.DiagnosticsReport)
}

type Scheduler struct {
	cron        *cron.Cron
	cleaner     ports.HousekeepingRunner
	diagnostics ports.DiagnosticsRunner
	observer    Observer
	logger      *slog.Logger
	timeout     time.Duration
	now         func() time.Time
}

type Option func(*Scheduler)

func WithObserver(observer Observer) Option {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cleaner ports.HousekeepingRunner, diagnostics ports.DiagnosticsRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:        cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cleaner:     cleaner,
		diagnostics: diagnostics,
		logger:      slog.Default(),
		timeout:     30 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the pass under a six-field cron spec and starts the scheduler.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("register housekeeping schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("housekeeping_scheduler_started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running pass until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("housekeeping_stop_timeout")
	}
	s.logger.Info("housekeeping_scheduler_stopped")
}

// RunOnce performs cleanup then a diagnostics pass. Failures are logged.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()

	result, err := s.cleaner.Cleanup(ctx, now)
	if s.observer != nil {
		s.observer.ObserveCleanup(result, err)
	}
	if err != nil {
		s.logger.Error("housekeeping_failed", "error", err)
	} else {
		s.logger.Info("housekeeping_completed",
			"deleted_records", result.DeletedRecords,
			"deleted_files", result.DeletedFiles,
			"failed", result.Failed,
		)
	}

	report, err := s.diagnostics.Run(ctx, now)
	if err != nil {
		s.logger.Error("diagnostics_failed", "error", err)
		return
	}
	if s.observer != nil {
		s.observer.ObserveDiagnostics(report)
	}
	level := slog.LevelInfo
	if report.Count(domain.FindingIntegrityFault) > 0 {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "diagnostics_completed",
		"scanned", report.Scanned,
		"integrity_faults", report.Count(domain.FindingIntegrityFault),
		"degraded", report.Count(domain.FindingDegraded),
		"stuck", report.Count(domain.FindingStuck),
	)
}
