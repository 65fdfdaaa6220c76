package models

import "time"

// JobStatus is the lifecycle state of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the forward-only job state machine:
// pending -> processing -> completed, and any non-terminal state -> failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobType distinguishes validation-only runs from live imports in completion results
type JobType string

const (
	JobTypeDryRun JobType = "dry_run"
	JobTypeImport JobType = "import"
)

// JobDescriptor is the immutable request to import one spreadsheet range
type JobDescriptor struct {
	JobID     string `json:"jobId" validate:"required"`
	SourceID  string `json:"sourceId" validate:"required"`
	Range     string `json:"range" validate:"required"`
	MappingID string `json:"mappingId" validate:"required,mapping_id"`
	DryRun    bool   `json:"isDryRun"`
}

// Type returns the job type recorded in completion results
func (d JobDescriptor) Type() JobType {
	if d.DryRun {
		return JobTypeDryRun
	}
	return JobTypeImport
}

// JobState is the running tally for the single active job
type JobState struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	CurrentRow   int       `json:"currentRow"`
	TotalRows    int       `json:"totalRows"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RowStatus is the per-row outcome
type RowStatus string

const (
	RowStatusSuccess RowStatus = "success"
	RowStatusError   RowStatus = "error"
)

// RowOutcome is the result of validating or submitting one row
type RowOutcome struct {
	RowNumber int       `json:"rowNumber"`
	Status    RowStatus `json:"status"`
	Message   string    `json:"message"`
}

// FailedRow is one entry of the failed_rows list sent on completion
type FailedRow struct {
	RowNumber int    `json:"row_number"`
	Error     string `json:"error"`
}

// JobResults is the aggregate sent with a completion report.
// Imports always carry failed_rows, empty when every row succeeded; dry runs leave it nil.
type JobResults struct {
	TotalRows    int         `json:"total_rows"`
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
	Type         JobType     `json:"type"`
	FailedRows   []FailedRow `json:"failed_rows,omitzero"`
}
