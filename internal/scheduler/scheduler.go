// Package scheduler fires schedule-triggered workflows on their cron
// expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowkit/internal/ontology"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// DefaultInterval is the polling interval when Config.Interval is unset.
const DefaultInterval = 60 * time.Second

// Run statuses recorded on scheduled jobs.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// WorkflowTrigger runs one scheduled workflow. Satisfied by
// *ontology.Service.
type WorkflowTrigger interface {
	TriggerScheduled(ctx context.Context, workflowID string) (*ontology.ExecuteResult, error)
}

// Config holds optional scheduler settings.
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler polls for active scheduled workflows, keeps their job rows in
// sync and runs the ones that are due.
type Scheduler struct {
	store    store.Store
	trigger  WorkflowTrigger
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently executing
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, trigger WorkflowTrigger, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:    s,
		trigger:  trigger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      cfg.Now,
		inflight: make(map[string]struct{}),
	}
}

// Start recovers missed runs and launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.RecoverMissed(schedCtx); err != nil {
		s.logger.Warn("missed run recovery failed", slog.String("error", err.Error()))
	}

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick syncs job rows and runs every due job.
func (s *Scheduler) tick(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("failed to sync scheduled jobs", slog.String("error", err.Error()))
	}

	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.WorkflowID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("workflow_id", job.WorkflowID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.WorkflowID)
	}
}

// Sync upserts a job for every active workflow with a schedule trigger and
// disables jobs whose workflow no longer qualifies. A job keeps its next
// run unless its cron expression changed or it was disabled.
func (s *Scheduler) Sync(ctx context.Context) error {
	active := schema.WorkflowStatusActive
	workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Status:    &active,
		TriggerOn: schema.TriggerSchedule,
	})
	if err != nil {
		return fmt.Errorf("list scheduled workflows: %w", err)
	}

	now := s.now().UTC()
	wanted := make(map[string]struct{}, len(workflows))
	for _, wf := range workflows {
		if wf.Execution.Schedule == "" {
			continue
		}
		wanted[wf.ID] = struct{}{}

		existing, err := s.store.GetScheduledJob(ctx, wf.ID)
		if err != nil && !schema.IsNotFound(err) {
			return fmt.Errorf("load scheduled job %q: %w", wf.ID, err)
		}
		if existing != nil && existing.Enabled && existing.CronExpression == wf.Execution.Schedule {
			continue
		}

		next, err := s.CalculateNextRun(wf.Execution.Schedule, now)
		if err != nil {
			s.logger.Warn("workflow has an invalid schedule",
				slog.String("workflow_id", wf.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.store.UpsertScheduledJob(ctx, &store.ScheduledJob{
			WorkflowID:     wf.ID,
			OrganizationID: wf.OrganizationID,
			CronExpression: wf.Execution.Schedule,
			Enabled:        true,
			NextRunAt:      &next,
		}); err != nil {
			return fmt.Errorf("upsert scheduled job %q: %w", wf.ID, err)
		}
	}

	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list scheduled jobs: %w", err)
	}
	for _, job := range jobs {
		if _, ok := wanted[job.WorkflowID]; ok {
			continue
		}
		if err := s.disable(ctx, job.WorkflowID); err != nil {
			return err
		}
	}
	return nil
}

// runJob triggers the job's workflow and records the outcome.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled workflow",
		slog.String("workflow_id", job.WorkflowID),
		slog.String("cron", job.CronExpression),
	)

	res, err := s.trigger.TriggerScheduled(ctx, job.WorkflowID)
	status := StatusSuccess
	switch {
	case err != nil:
		status = StatusError
		s.logger.Error("scheduled workflow not run",
			slog.String("workflow_id", job.WorkflowID),
			slog.String("error", err.Error()),
		)
		code := schema.CodeOf(err)
		if code == schema.ErrCodeNotFound || code == schema.ErrCodeConflict {
			return s.disable(ctx, job.WorkflowID)
		}
	case !res.Success:
		status = StatusFailed
		s.logger.Warn("scheduled workflow failed",
			slog.String("workflow_id", job.WorkflowID),
			slog.String("error", res.Error),
		)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for workflow %q: %w", job.WorkflowID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.WorkflowID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

func (s *Scheduler) disable(ctx context.Context, workflowID string) error {
	off := false
	err := s.store.UpdateScheduledJob(ctx, workflowID, store.ScheduledJobUpdate{Enabled: &off})
	if err != nil && !schema.IsNotFound(err) {
		return fmt.Errorf("disable scheduled job %q: %w", workflowID, err)
	}
	s.logger.Info("scheduled job disabled", slog.String("workflow_id", workflowID))
	return nil
}

// tryAcquire returns true and marks the workflow as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every enabled job whose next run passed while
// the scheduler was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.WorkflowID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.WorkflowID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("workflow_id", job.WorkflowID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
