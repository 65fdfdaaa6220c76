package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies worker errors
type ErrorKind string

const (
	KindAuthHeader     ErrorKind = "auth_header"
	KindValidation     ErrorKind = "validation"
	KindConcurrentJob  ErrorKind = "concurrent_job"
	KindSourceAccess   ErrorKind = "source_access"
	KindSourceNotFound ErrorKind = "source_not_found"
	KindEmptySource    ErrorKind = "empty_source"
	KindUnknownMapping ErrorKind = "unknown_mapping"
	KindLaunch         ErrorKind = "launch"
	KindAuthentication ErrorKind = "authentication"
	KindNavigation     ErrorKind = "navigation"
	KindAutomation     ErrorKind = "automation"
	KindJobCancelled   ErrorKind = "job_cancelled"
	KindJobNotFound    ErrorKind = "job_not_found"
)

// WorkerError is the single error type carried through the pipeline
type WorkerError struct {
	Kind    ErrorKind
	Message string
	Fields  []string // Offending fields for validation errors
	Cause   error
}

func (e *WorkerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// Is matches any WorkerError of the same kind, so the sentinels below work with errors.Is
func (e *WorkerError) Is(target error) bool {
	t, ok := target.(*WorkerError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrAuthHeader     = &WorkerError{Kind: KindAuthHeader, Message: "invalid request signature"}
	ErrValidation     = &WorkerError{Kind: KindValidation, Message: "validation failed"}
	ErrConcurrentJob  = &WorkerError{Kind: KindConcurrentJob, Message: "another job is already processing"}
	ErrSourceAccess   = &WorkerError{Kind: KindSourceAccess, Message: "source access denied"}
	ErrSourceNotFound = &WorkerError{Kind: KindSourceNotFound, Message: "source not found"}
	ErrEmptySource    = &WorkerError{Kind: KindEmptySource, Message: "no data found in source"}
	ErrUnknownMapping = &WorkerError{Kind: KindUnknownMapping, Message: "unknown mapping"}
	ErrLaunch         = &WorkerError{Kind: KindLaunch, Message: "browser launch failed"}
	ErrAuthentication = &WorkerError{Kind: KindAuthentication, Message: "authentication failed"}
	ErrNavigation     = &WorkerError{Kind: KindNavigation, Message: "navigation failed"}
	ErrAutomation     = &WorkerError{Kind: KindAutomation, Message: "automation failed"}
	ErrJobCancelled   = &WorkerError{Kind: KindJobCancelled, Message: "job cancelled"}
	ErrJobNotFound    = &WorkerError{Kind: KindJobNotFound, Message: "job not found"}
)

func newError(kind ErrorKind, cause error, format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewAuthHeaderError reports a missing, stale or mismatched request signature
func NewAuthHeaderError(reason string) *WorkerError {
	return newError(KindAuthHeader, nil, "%s", reason)
}

// NewValidationError names the fields that failed validation
func NewValidationError(message string, fields ...string) *WorkerError {
	e := newError(KindValidation, nil, "%s", message)
	e.Fields = fields
	return e
}

// NewMissingFieldsError builds the 400 message naming missing descriptor fields
func NewMissingFieldsError(fields []string) *WorkerError {
	return NewValidationError("Missing required fields: "+strings.Join(fields, ", "), fields...)
}

func NewConcurrentJobError(activeJobID string) *WorkerError {
	return newError(KindConcurrentJob, nil, "another job is already processing: %s", activeJobID)
}

func NewSourceAccessError(sourceID string, cause error) *WorkerError {
	return newError(KindSourceAccess, cause, "access denied to source %s", sourceID)
}

func NewSourceNotFoundError(sourceID string, cause error) *WorkerError {
	return newError(KindSourceNotFound, cause, "source %s not found", sourceID)
}

func NewEmptySourceError(sourceID, rng string) *WorkerError {
	return newError(KindEmptySource, nil, "no data found in source %s range %s", sourceID, rng)
}

func NewUnknownMappingError(mappingID string) *WorkerError {
	return newError(KindUnknownMapping, nil, "unknown mapping: %s", mappingID)
}

func NewLaunchError(cause error) *WorkerError {
	return newError(KindLaunch, cause, "failed to launch browser")
}

func NewAuthenticationError(reason string, cause error) *WorkerError {
	return newError(KindAuthentication, cause, "login failed: %s", reason)
}

func NewNavigationError(url string, cause error) *WorkerError {
	return newError(KindNavigation, cause, "failed to navigate to %s", url)
}

func NewAutomationError(action string, cause error) *WorkerError {
	return newError(KindAutomation, cause, "%s", action)
}

func NewJobCancelledError(jobID string) *WorkerError {
	return newError(KindJobCancelled, nil, "job %s was cancelled", jobID)
}

func NewJobNotFoundError(jobID string) *WorkerError {
	return newError(KindJobNotFound, nil, "job %s not found", jobID)
}

// KindOf returns the kind of the first WorkerError in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsJobFatal reports whether err ends the whole job rather than a single row.
// A form that fails to load or submit only fails its row; losing the browser
// or the login fails the job.
func IsJobFatal(err error) bool {
	switch KindOf(err) {
	case KindAutomation, KindNavigation, "":
		return false
	default:
		return true
	}
}
