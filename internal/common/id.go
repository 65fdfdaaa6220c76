package common

import (
	"github.com/google/uuid"
)

// NewJobID generates an id for jobs started locally rather than by the system of record
// Format: local_<uuid>
func NewJobID() string {
	return "local_" + uuid.New().String()
}

// NewRequestID generates an id used to correlate a single HTTP request in logs
func NewRequestID() string {
	return uuid.New().String()
}
