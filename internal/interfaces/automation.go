package interfaces

import (
	"context"

	"github.com/ternarybob/sheetporter/internal/models"
)

// Credentials for the automation target
type Credentials struct {
	Username string
	Password string
}

// SubmitResult is the outcome of submitting one row that did not raise an error.
// Success is false with a Reason when no success indicator appeared (soft failure).
type SubmitResult struct {
	Success        bool
	Reason         string
	FieldsFilled   []string
	FieldsSkipped  []string
	ScreenshotPath string
}

// AutomationSession drives one browser context against the automation target
type AutomationSession interface {
	Launch(ctx context.Context) error
	Authenticate(ctx context.Context, creds Credentials) error
	NavigateTo(ctx context.Context, url string) error
	SubmitRow(ctx context.Context, row models.MappedRow, rule *models.MappingRule) (*SubmitResult, error)
	// Close releases browser resources. Safe to call repeatedly and before Launch.
	Close()
}

// SessionFactory creates a fresh session for each live job
type SessionFactory func() AutomationSession
