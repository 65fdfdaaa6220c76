package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/mapping"
	"github.com/ternarybob/sheetporter/internal/services/orchestrator"
)

type fakeRunner struct {
	submitFn func(desc models.JobDescriptor) error
	cancelFn func(jobID string) error
	active   *orchestrator.Snapshot
}

func (f *fakeRunner) Submit(desc models.JobDescriptor) error {
	if f.submitFn != nil {
		return f.submitFn(desc)
	}
	return nil
}

func (f *fakeRunner) Cancel(jobID string) error {
	if f.cancelFn != nil {
		return f.cancelFn(jobID)
	}
	return models.NewJobNotFoundError(jobID)
}

func (f *fakeRunner) Active() (orchestrator.Snapshot, bool) {
	if f.active == nil {
		return orchestrator.Snapshot{}, false
	}
	return *f.active, true
}

type fakeSource struct {
	table      models.RawTable
	accessible bool
	metaErr    error
}

func (f *fakeSource) FetchTable(ctx context.Context, sourceID, rng string) (models.RawTable, error) {
	return f.table, nil
}

func (f *fakeSource) ProbeAccess(ctx context.Context, sourceID string) bool { return f.accessible }

func (f *fakeSource) Metadata(ctx context.Context, sourceID string) (*models.SourceMetadata, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return &models.SourceMetadata{Title: "Customers", Sheets: []models.SheetDetail{{Title: "Sheet1"}, {Title: "Sheet2"}}}, nil
}

type fakeHistory struct {
	jobs map[string]*models.JobRecord
	logs map[string][]models.RowLogRecord
}

func (f *fakeHistory) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	jobs := make([]*models.JobRecord, 0, len(f.jobs))
	for _, job := range f.jobs {
		jobs = append(jobs, job)
		if len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

func (f *fakeHistory) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	if job, ok := f.jobs[jobID]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, models.NewJobNotFoundError(jobID)
}

func (f *fakeHistory) GetLogs(ctx context.Context, jobID string, limit int) ([]models.RowLogRecord, error) {
	logs := f.logs[jobID]
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func newJobHandler(runner JobRunner, source *fakeSource, history JobHistory) *JobHandler {
	if source == nil {
		source = &fakeSource{}
	}
	return NewJobHandler(runner, source, mapping.NewRegistry(arbor.NewLogger()), history, arbor.NewLogger())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProcessHandler(t *testing.T) {
	var submitted models.JobDescriptor
	runner := &fakeRunner{submitFn: func(desc models.JobDescriptor) error {
		submitted = desc
		return nil
	}}
	handler := newJobHandler(runner, nil, nil)

	body := `{"jobId":"job-1","sourceId":"sheet","range":"Sheet1!A:C","mappingId":"Customers.Basic","isDryRun":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/process", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ProcessHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "job-1", resp["jobId"])
	assert.Equal(t, "queued", resp["status"])
	assert.True(t, submitted.DryRun)
	assert.Equal(t, "Sheet1!A:C", submitted.Range)
}

func TestProcessHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing fields",
			method:     http.MethodPost,
			body:       `{"sourceId":"sheet","mappingId":"Customers.Basic"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields: jobId, range",
		},
		{
			name:       "malformed mapping id",
			method:     http.MethodPost,
			body:       `{"jobId":"j","sourceId":"s","range":"A1","mappingId":"Customers"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "mappingId must have the form Category.Type",
		},
		{
			name:       "invalid json",
			method:     http.MethodPost,
			body:       `{"jobId":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid JSON body",
		},
		{
			name:       "busy",
			method:     http.MethodPost,
			body:       `{"jobId":"job-2","sourceId":"s","range":"A1","mappingId":"Customers.Basic"}`,
			submitErr:  models.NewConcurrentJobError("job-1"),
			wantStatus: http.StatusConflict,
			wantError:  "another job is already processing: job-1",
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "Method not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{submitFn: func(models.JobDescriptor) error { return tt.submitErr }}
			handler := newJobHandler(runner, nil, nil)

			req := httptest.NewRequest(tt.method, "/api/jobs/process", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ProcessHandler(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeBody(t, rec)
			assert.Equal(t, "error", resp["status"])
			assert.Contains(t, resp["error"], tt.wantError)
		})
	}
}

func TestValidateHandler(t *testing.T) {
	table := models.RawTable{{"name", "email", "phone"}}
	for i := 1; i <= 7; i++ {
		table = append(table, []string{fmt.Sprintf("User %d", i), fmt.Sprintf("u%d@example.com", i), "555"})
	}

	t.Run("preview", func(t *testing.T) {
		handler := newJobHandler(&fakeRunner{}, &fakeSource{table: table, accessible: true}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/jobs/validate", strings.NewReader(`{"sourceId":"sheet","range":"A:C"}`))
		rec := httptest.NewRecorder()
		handler.ValidateHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody(t, rec)
		assert.Equal(t, "Customers", resp["title"])
		assert.Equal(t, float64(2), resp["sheetCount"])
		assert.Equal(t, float64(7), resp["totalRows"])
		assert.Equal(t, []interface{}{"name", "email", "phone"}, resp["headers"])
		assert.Len(t, resp["sampleData"], 5)
	})

	t.Run("no access", func(t *testing.T) {
		handler := newJobHandler(&fakeRunner{}, &fakeSource{table: table}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/jobs/validate", strings.NewReader(`{"sourceId":"sheet","range":"A:C"}`))
		rec := httptest.NewRecorder()
		handler.ValidateHandler(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("header only", func(t *testing.T) {
		handler := newJobHandler(&fakeRunner{}, &fakeSource{table: table[:1], accessible: true}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/jobs/validate", strings.NewReader(`{"sourceId":"sheet","range":"A:C"}`))
		rec := httptest.NewRecorder()
		handler.ValidateHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing range", func(t *testing.T) {
		handler := newJobHandler(&fakeRunner{}, &fakeSource{accessible: true}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/jobs/validate", strings.NewReader(`{"sourceId":"sheet"}`))
		rec := httptest.NewRecorder()
		handler.ValidateHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "range")
	})
}

func TestStatusHandler(t *testing.T) {
	history := &fakeHistory{jobs: map[string]*models.JobRecord{
		"job-1": {ID: "job-1", Status: models.JobStatusCompleted, SuccessCount: 2},
		"job-2": {ID: "job-2", Status: models.JobStatusProcessing, CurrentRow: 1},
	}}
	runner := &fakeRunner{active: &orchestrator.Snapshot{
		Descriptor: models.JobDescriptor{JobID: "job-2", MappingID: "Customers.Basic"},
		State:      models.JobState{JobID: "job-2", Status: models.JobStatusProcessing, CurrentRow: 4, TotalRows: 9},
	}}
	handler := newJobHandler(runner, nil, history)

	get := func(id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/status/"+id, nil))
		return rec
	}

	rec := get("job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, false, resp["active"])
	assert.Equal(t, "completed", resp["job"].(map[string]interface{})["status"])

	rec = get("job-2")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody(t, rec)
	assert.Equal(t, true, resp["active"])
	assert.Equal(t, float64(4), resp["job"].(map[string]interface{})["currentRow"])

	assert.Equal(t, http.StatusNotFound, get("nope").Code)
	assert.Equal(t, http.StatusBadRequest, get("").Code)
}

func TestListHandler(t *testing.T) {
	history := &fakeHistory{jobs: map[string]*models.JobRecord{
		"job-1": {ID: "job-1", Status: models.JobStatusCompleted},
		"job-2": {ID: "job-2", Status: models.JobStatusFailed},
	}}

	rec := httptest.NewRecorder()
	newJobHandler(&fakeRunner{}, nil, history).ListHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	newJobHandler(&fakeRunner{}, nil, nil).ListHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogsHandler(t *testing.T) {
	history := &fakeHistory{logs: map[string][]models.RowLogRecord{
		"job-1": {
			{JobID: "job-1", RowNumber: 2, Status: models.RowStatusSuccess, Message: "Row imported successfully"},
			{JobID: "job-1", RowNumber: 3, Status: models.RowStatusError, Message: "no success indicator"},
		},
	}}
	handler := newJobHandler(&fakeRunner{}, nil, history)

	rec := httptest.NewRecorder()
	handler.LogsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/logs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(1), resp["count"])

	rec = httptest.NewRecorder()
	handler.LogsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	newJobHandler(&fakeRunner{}, nil, nil).LogsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/logs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelHandler(t *testing.T) {
	runner := &fakeRunner{cancelFn: func(jobID string) error {
		if jobID != "job-1" {
			return models.NewJobNotFoundError(jobID)
		}
		return nil
	}}
	handler := newJobHandler(runner, nil, nil)

	rec := httptest.NewRecorder()
	handler.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/cancel/job-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelling", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	handler.CancelHandler(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/cancel/job-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMappingsHandler(t *testing.T) {
	handler := newJobHandler(&fakeRunner{}, nil, nil)

	rec := httptest.NewRecorder()
	handler.MappingsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/mappings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	mappings := decodeBody(t, rec)["mappings"].([]interface{})
	require.Len(t, mappings, 4)
	assert.Equal(t, "Customers.Basic", mappings[0].(map[string]interface{})["id"])
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusForError(models.NewAuthHeaderError("bad")))
	assert.Equal(t, http.StatusConflict, StatusForError(models.NewConcurrentJobError("a")))
	assert.Equal(t, http.StatusForbidden, StatusForError(models.NewSourceAccessError("s", nil)))
	assert.Equal(t, http.StatusNotFound, StatusForError(models.NewJobNotFoundError("a")))
	assert.Equal(t, http.StatusInternalServerError, StatusForError(fmt.Errorf("boom")))
}
