package badger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

// logSequence keeps keys unique when two entries share a nanosecond
var logSequence uint64

// RowLogStorage implements the RowLogStorage interface for Badger
type RowLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRowLogStorage creates a new RowLogStorage instance
func NewRowLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RowLogStorage {
	return &RowLogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RowLogStorage) AppendLog(ctx context.Context, entry models.RowLogRecord) error {
	if entry.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	seq := atomic.AddUint64(&logSequence, 1)
	key := fmt.Sprintf("%s_%d_%d", entry.JobID, entry.Timestamp.UnixNano(), seq)

	if err := s.db.Store().Insert(key, &entry); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// GetLogs returns a job's row logs in row order
func (s *RowLogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]models.RowLogRecord, error) {
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("RowNumber", "Timestamp")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []models.RowLogRecord
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

func (s *RowLogStorage) DeleteLogs(ctx context.Context, jobID string) error {
	if err := s.db.Store().DeleteMatching(&models.RowLogRecord{}, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return fmt.Errorf("failed to delete logs: %w", err)
	}
	return nil
}
