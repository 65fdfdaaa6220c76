package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/sheetporter/internal/models"
)

// JobStorage persists job records for the local status endpoint
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RowLogStorage persists per-row log lines
type RowLogStorage interface {
	AppendLog(ctx context.Context, entry models.RowLogRecord) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]models.RowLogRecord, error)
	DeleteLogs(ctx context.Context, jobID string) error
}

// StorageManager aggregates the storages
type StorageManager interface {
	JobStorage() JobStorage
	RowLogStorage() RowLogStorage
	Close() error
}
