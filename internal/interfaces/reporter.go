package interfaces

import (
	"context"

	"github.com/ternarybob/sheetporter/internal/models"
)

// StatusReporter delivers signed job events to the system of record.
// Every method returns the delivery error so callers can log it; none are job-fatal.
type StatusReporter interface {
	ReportStatus(ctx context.Context, jobID string, status models.JobStatus, progress *int) error
	ReportProgress(ctx context.Context, jobID string, currentRow, totalRows, successCount, errorCount int) error
	ReportLog(ctx context.Context, jobID string, rowNumber int, status models.RowStatus, message string) error
	ReportCompletion(ctx context.Context, jobID string, results models.JobResults) error
	ReportFailure(ctx context.Context, jobID string, jobErr error, failedRows []models.FailedRow) error
	TestConnection(ctx context.Context) error
}
