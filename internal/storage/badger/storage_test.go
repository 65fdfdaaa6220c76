package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestJobStorage_SaveGetList(t *testing.T) {
	storage := newTestManager(t).JobStorage()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, storage.SaveJob(ctx, &models.JobRecord{
			ID:        id,
			MappingID: "Customers.Basic",
			Status:    models.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	job, err := storage.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "Customers.Basic", job.MappingID)

	// Upsert overwrites
	job.SuccessCount = 7
	require.NoError(t, storage.SaveJob(ctx, job))
	job, err = storage.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, 7, job.SuccessCount)

	jobs, err := storage.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-3", jobs[0].ID)
	assert.Equal(t, "job-2", jobs[1].ID)

	_, err = storage.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	assert.Error(t, storage.SaveJob(ctx, &models.JobRecord{}))
}

func TestJobStorage_DeleteJobsBefore(t *testing.T) {
	manager := newTestManager(t)
	jobs := manager.JobStorage()
	logs := manager.RowLogStorage()
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, jobs.SaveJob(ctx, &models.JobRecord{ID: "old-done", Status: models.JobStatusCompleted, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, jobs.SaveJob(ctx, &models.JobRecord{ID: "old-running", Status: models.JobStatusProcessing, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, jobs.SaveJob(ctx, &models.JobRecord{ID: "fresh", Status: models.JobStatusFailed, CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, logs.AppendLog(ctx, models.RowLogRecord{JobID: "old-done", RowNumber: 2, Status: models.RowStatusSuccess}))

	deleted, err := jobs.DeleteJobsBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = jobs.GetJob(ctx, "old-done")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	_, err = jobs.GetJob(ctx, "old-running")
	assert.NoError(t, err)
	_, err = jobs.GetJob(ctx, "fresh")
	assert.NoError(t, err)

	remaining, err := logs.GetLogs(ctx, "old-done", 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRowLogStorage(t *testing.T) {
	logs := newTestManager(t).RowLogStorage()
	ctx := context.Background()

	for _, row := range []int{3, 2, 4} {
		require.NoError(t, logs.AppendLog(ctx, models.RowLogRecord{
			JobID:     "job-1",
			RowNumber: row,
			Status:    models.RowStatusSuccess,
			Message:   "Row imported successfully",
		}))
	}
	require.NoError(t, logs.AppendLog(ctx, models.RowLogRecord{JobID: "job-2", RowNumber: 2}))

	entries, err := logs.GetLogs(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[0].RowNumber)
	assert.Equal(t, 4, entries[2].RowNumber)
	assert.False(t, entries[0].Timestamp.IsZero())

	limited, err := logs.GetLogs(ctx, "job-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, logs.DeleteLogs(ctx, "job-1"))
	entries, err = logs.GetLogs(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = logs.GetLogs(ctx, "job-2", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, logs.AppendLog(ctx, models.RowLogRecord{}))
}

func TestNewBadgerDB_InMemory(t *testing.T) {
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{})
	require.NoError(t, err)
	defer db.Close()

	storage := NewJobStorage(db, arbor.NewLogger())
	require.NoError(t, storage.SaveJob(context.Background(), &models.JobRecord{ID: "mem"}))
	_, err = storage.GetJob(context.Background(), "mem")
	assert.NoError(t, err)
}
