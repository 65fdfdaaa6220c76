package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/orchestrator"
	"github.com/ternarybob/sheetporter/internal/services/sources"
	"github.com/ternarybob/sheetporter/internal/services/validation"
)

const (
	previewRows     = 5
	defaultLogLimit = 500
	maxLogLimit     = 5000
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// JobRunner is the part of the orchestrator the HTTP surface drives
type JobRunner interface {
	Submit(desc models.JobDescriptor) error
	Cancel(jobID string) error
	Active() (orchestrator.Snapshot, bool)
}

// JobHistory is the local record of past jobs. May be nil when history is disabled.
type JobHistory interface {
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	GetLogs(ctx context.Context, jobID string, limit int) ([]models.RowLogRecord, error)
}

// JobHandler serves the job endpoints
type JobHandler struct {
	runner  JobRunner
	source  interfaces.RowSource
	mapper  interfaces.FieldMapper
	history JobHistory
	logger  arbor.ILogger
}

// NewJobHandler creates a job handler
func NewJobHandler(runner JobRunner, source interfaces.RowSource, mapper interfaces.FieldMapper, history JobHistory, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		runner:  runner,
		source:  source,
		mapper:  mapper,
		history: history,
		logger:  logger,
	}
}

// ProcessHandler accepts a job descriptor and starts it in the background
// POST /api/jobs/process
func (h *JobHandler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var desc models.JobDescriptor
	if err := DecodeJSON(r, &desc); err != nil {
		WriteWorkerError(w, err)
		return
	}
	if err := validation.Struct(desc); err != nil {
		WriteWorkerError(w, err)
		return
	}

	if err := h.runner.Submit(desc); err != nil {
		if models.KindOf(err) == models.KindConcurrentJob {
			h.logger.Warn().Str("job_id", desc.JobID).Msg("Rejected job submission while busy")
		} else {
			h.logger.Warn().Err(err).Str("job_id", desc.JobID).Msg("Rejected job submission")
		}
		WriteWorkerError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobId":   desc.JobID,
		"status":  "queued",
	})
}

// validateRequest is the body of a pre-flight source check
type validateRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	Range    string `json:"range" validate:"required"`
}

// ValidateHandler checks that a source is readable and returns a preview
// POST /api/jobs/validate
func (h *JobHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req validateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteWorkerError(w, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		WriteWorkerError(w, err)
		return
	}

	ctx := r.Context()
	if !h.source.ProbeAccess(ctx, req.SourceID) {
		WriteError(w, http.StatusForbidden, "Cannot access source. Check that it is shared with the service account.")
		return
	}

	table, err := h.source.FetchTable(ctx, req.SourceID, req.Range)
	if err != nil {
		WriteWorkerError(w, err)
		return
	}
	rows := sources.ParseWithHeaders(table)
	if len(rows) == 0 {
		WriteError(w, http.StatusBadRequest, "No data found in the specified range")
		return
	}

	response := map[string]interface{}{
		"success":    true,
		"headers":    sources.Headers(table),
		"sampleData": rows[:min(previewRows, len(rows))],
		"totalRows":  len(rows),
	}

	// Metadata is informational; a failure here does not fail the check
	if meta, err := h.source.Metadata(ctx, req.SourceID); err == nil {
		response["title"] = meta.Title
		response["sheetCount"] = len(meta.Sheets)
	} else {
		h.logger.Debug().Err(err).Str("source_id", req.SourceID).Msg("Source metadata unavailable")
	}

	WriteJSON(w, http.StatusOK, response)
}

// ListHandler returns the most recent jobs, newest first
// GET /api/jobs
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if h.history == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job history is disabled")
		return
	}

	jobs, err := h.history.ListJobs(r.Context(), QueryInt(r, "limit", defaultJobLimit, maxJobLimit))
	if err != nil {
		WriteWorkerError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    jobs,
		"count":   len(jobs),
	})
}

// StatusHandler returns the stored record of a job, overlaid with live state when it is active
// GET /api/jobs/status/{id}
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := PathParam(r, "/api/jobs/status/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	var record *models.JobRecord
	if h.history != nil {
		stored, err := h.history.GetJob(r.Context(), jobID)
		if err != nil && !errors.Is(err, models.ErrJobNotFound) {
			WriteWorkerError(w, err)
			return
		}
		record = stored
	}

	snap, active := h.runner.Active()
	active = active && snap.Descriptor.JobID == jobID

	if record == nil && !active {
		WriteWorkerError(w, models.NewJobNotFoundError(jobID))
		return
	}

	if record == nil {
		record = &models.JobRecord{
			ID:        jobID,
			SourceID:  snap.Descriptor.SourceID,
			Range:     snap.Descriptor.Range,
			MappingID: snap.Descriptor.MappingID,
			DryRun:    snap.Descriptor.DryRun,
			CreatedAt: snap.State.StartedAt,
		}
	}
	if active {
		record.Status = snap.State.Status
		record.CurrentRow = snap.State.CurrentRow
		record.TotalRows = snap.State.TotalRows
		record.SuccessCount = snap.State.SuccessCount
		record.ErrorCount = snap.State.ErrorCount
		record.UpdatedAt = snap.State.UpdatedAt
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"job":     record,
		"active":  active,
	})
}

// LogsHandler returns the stored row logs of a job
// GET /api/jobs/{id}/logs
func (h *JobHandler) LogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := PathParam(r, "/api/jobs/")
	if jobID == "" || !strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/logs") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if h.history == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job history is disabled")
		return
	}

	logs, err := h.history.GetLogs(r.Context(), jobID, QueryInt(r, "limit", defaultLogLimit, maxLogLimit))
	if err != nil {
		WriteWorkerError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobId":   jobID,
		"logs":    logs,
		"count":   len(logs),
	})
}

// CancelHandler asks the active job to stop before its next row
// POST /api/jobs/cancel/{id}
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	jobID := PathParam(r, "/api/jobs/cancel/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.runner.Cancel(jobID); err != nil {
		WriteWorkerError(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobId":   jobID,
		"status":  "cancelling",
	})
}

// MappingsHandler lists the registered mappings
// GET /api/jobs/mappings
func (h *JobHandler) MappingsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"mappings": h.mapper.List(),
	})
}
