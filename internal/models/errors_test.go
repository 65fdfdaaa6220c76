package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerErrorIs(t *testing.T) {
	cause := errors.New("403 Forbidden")
	err := NewSourceAccessError("sheet1", cause)

	assert.True(t, errors.Is(err, ErrSourceAccess))
	assert.False(t, errors.Is(err, ErrSourceNotFound))
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("fetch: %w", err)
	assert.True(t, errors.Is(wrapped, ErrSourceAccess))
	assert.Equal(t, KindSourceAccess, KindOf(wrapped))
	assert.Contains(t, err.Error(), "403 Forbidden")
}

func TestIsJobFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"empty source", NewEmptySourceError("s", "A:C"), true},
		{"source access", NewSourceAccessError("s", errors.New("403")), true},
		{"unknown mapping", NewUnknownMappingError("Foo.Bar"), true},
		{"launch", NewLaunchError(errors.New("no chrome")), true},
		{"authentication", NewAuthenticationError("no indicator", nil), true},
		{"wrapped authentication", fmt.Errorf("navigate: %w", NewAuthenticationError("no indicator", nil)), true},
		{"cancelled", NewJobCancelledError("j1"), true},
		{"navigation", NewNavigationError("https://crm.example.com/customers/new", errors.New("timeout")), false},
		{"automation", NewAutomationError("click failed", nil), false},
		{"plain", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsJobFatal(tt.err))
		})
	}
}

func TestNewMissingFieldsError(t *testing.T) {
	err := NewMissingFieldsError([]string{"jobId", "range"})
	assert.Equal(t, "Missing required fields: jobId, range", err.Error())
	assert.Equal(t, []string{"jobId", "range"}, err.Fields)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestJobStatusTransitions(t *testing.T) {
	assert.True(t, JobStatusPending.CanTransitionTo(JobStatusProcessing))
	assert.True(t, JobStatusProcessing.CanTransitionTo(JobStatusCompleted))
	assert.True(t, JobStatusProcessing.CanTransitionTo(JobStatusFailed))
	assert.False(t, JobStatusCompleted.CanTransitionTo(JobStatusProcessing))
	assert.False(t, JobStatusFailed.CanTransitionTo(JobStatusCompleted))
	assert.False(t, JobStatusProcessing.CanTransitionTo(JobStatusPending))
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestMappingRuleHelpers(t *testing.T) {
	rule := MappingRule{
		ID: "Customers.Basic",
		Locators: map[string][]string{
			"phone": {"input[name=phone]"},
			"email": {"input[name=email]"},
			"name":  {"input[name=name]"},
		},
	}
	assert.Equal(t, "Customers", rule.Category())
	assert.Equal(t, []string{"email", "name", "phone"}, rule.LocatedFields())
}
