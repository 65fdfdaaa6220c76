package models

import "time"

// JobEvent is the payload of every job lifecycle event on the event bus
type JobEvent struct {
	JobID      string        `json:"jobId"`
	Descriptor JobDescriptor `json:"descriptor"`
	State      JobState      `json:"state"`
	Row        *RowOutcome   `json:"row,omitempty"`
	Results    *JobResults   `json:"results,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  ErrorKind     `json:"errorKind,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
