package models

import "time"

// JobRecord is the locally persisted view of a job, kept for the status endpoint
type JobRecord struct {
	ID           string      `json:"jobId" badgerhold:"key"`
	SourceID     string      `json:"sourceId"`
	Range        string      `json:"range"`
	MappingID    string      `json:"mappingId"`
	DryRun       bool        `json:"isDryRun"`
	Status       JobStatus   `json:"status" badgerhold:"index"`
	CurrentRow   int         `json:"currentRow"`
	TotalRows    int         `json:"totalRows"`
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
	Error        string      `json:"error,omitempty"`
	Results      *JobResults `json:"results,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// RowLogRecord is a persisted per-row log line
type RowLogRecord struct {
	JobID     string    `json:"jobId" badgerhold:"index"`
	RowNumber int       `json:"rowNumber"`
	Status    RowStatus `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
