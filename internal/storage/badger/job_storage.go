package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var job models.JobRecord
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.NewJobNotFoundError(jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recently created jobs first
func (s *JobStorage) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.JobRecord
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.JobRecord, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// DeleteJobsBefore removes finished jobs last updated before cutoff, with their row logs
func (s *JobStorage) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.JobRecord
	if err := s.db.Store().Find(&jobs, badgerhold.Where("UpdatedAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	deleted := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		if err := s.db.Store().DeleteMatching(&models.RowLogRecord{}, badgerhold.Where("JobID").Eq(job.ID)); err != nil {
			return deleted, fmt.Errorf("failed to delete logs for job %s: %w", job.ID, err)
		}
		if err := s.db.Store().Delete(job.ID, &models.JobRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return deleted, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Debug().Int("deleted", deleted).Time("cutoff", cutoff).Msg("Deleted expired jobs")
	}
	return deleted, nil
}
