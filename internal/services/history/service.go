// Package history keeps a local record of jobs and their row logs, fed from job
// events, and prunes it on a cron schedule.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

// Service records job events into storage
type Service struct {
	jobs      interfaces.JobStorage
	logs      interfaces.RowLogStorage
	retention time.Duration
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex // serialises read-modify-write of job records
	running bool
}

// NewService creates a history service. A zero retention disables pruning.
func NewService(storage interfaces.StorageManager, retention time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		jobs:      storage.JobStorage(),
		logs:      storage.RowLogStorage(),
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
}

// SubscribeToJobEvents persists every job lifecycle event
func (s *Service) SubscribeToJobEvents(eventService interfaces.EventService) error {
	handlers := map[interfaces.EventType]interfaces.EventHandler{
		interfaces.EventJobStarted:   s.handle,
		interfaces.EventRowProcessed: s.handleRow,
		interfaces.EventJobCompleted: s.handle,
		interfaces.EventJobFailed:    s.handle,
	}
	for eventType, handler := range handlers {
		if err := eventService.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe history to %s: %w", eventType, err)
		}
	}
	return nil
}

func (s *Service) handle(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.JobEvent)
	if !ok {
		return nil
	}
	return s.record(ctx, payload)
}

func (s *Service) handleRow(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.JobEvent)
	if !ok {
		return nil
	}
	if payload.Row != nil {
		if err := s.logs.AppendLog(ctx, models.RowLogRecord{
			JobID:     payload.JobID,
			RowNumber: payload.Row.RowNumber,
			Status:    payload.Row.Status,
			Message:   payload.Row.Message,
			Timestamp: payload.Timestamp,
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("Failed to persist row log")
		}
	}
	return s.record(ctx, payload)
}

// record merges payload into the stored job. A stored terminal status is never replaced.
func (s *Service) record(ctx context.Context, payload models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.GetJob(ctx, payload.JobID)
	if err != nil {
		job = &models.JobRecord{
			ID:        payload.JobID,
			SourceID:  payload.Descriptor.SourceID,
			Range:     payload.Descriptor.Range,
			MappingID: payload.Descriptor.MappingID,
			DryRun:    payload.Descriptor.DryRun,
			Status:    models.JobStatusPending,
			CreatedAt: payload.State.StartedAt,
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = payload.Timestamp
		}
	}

	next := payload.State.Status
	if next != job.Status {
		if !job.Status.CanTransitionTo(next) {
			s.logger.Debug().
				Str("job_id", job.ID).
				Str("stored_status", string(job.Status)).
				Str("event_status", string(next)).
				Msg("Ignoring out-of-order job event")
			return nil
		}
		job.Status = next
	}

	job.CurrentRow = payload.State.CurrentRow
	job.TotalRows = payload.State.TotalRows
	job.SuccessCount = payload.State.SuccessCount
	job.ErrorCount = payload.State.ErrorCount
	job.UpdatedAt = payload.Timestamp
	if payload.Error != "" {
		job.Error = payload.Error
	}
	if payload.Results != nil {
		job.Results = payload.Results
	}
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		completedAt := payload.Timestamp
		job.CompletedAt = &completedAt
	}

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job record")
		return err
	}
	return nil
}

// GetJob returns the stored record for jobID
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	return s.jobs.GetJob(ctx, jobID)
}

// ListJobs returns up to limit records, newest first
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	return s.jobs.ListJobs(ctx, limit)
}

// GetLogs returns the row logs of jobID in row order
func (s *Service) GetLogs(ctx context.Context, jobID string, limit int) ([]models.RowLogRecord, error) {
	return s.logs.GetLogs(ctx, jobID, limit)
}

// Prune deletes finished jobs older than the retention period
func (s *Service) Prune(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	deleted, err := s.jobs.DeleteJobsBefore(ctx, time.Now().Add(-s.retention))
	if err != nil {
		return deleted, err
	}
	s.logger.Info().Int("deleted", deleted).Str("retention", s.retention.String()).Msg("Pruned job history")
	return deleted, nil
}

// Start schedules Prune with a standard five-field cron expression
func (s *Service) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("history pruning already running")
	}
	if s.retention <= 0 || schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Prune(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Job history prune failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Debug().Str("schedule", schedule).Msg("Job history pruning scheduled")
	return nil
}

// Stop halts the prune schedule and waits for a running prune to finish
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}
