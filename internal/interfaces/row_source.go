package interfaces

import (
	"context"

	"github.com/ternarybob/sheetporter/internal/models"
)

// RowSource fetches tabular data for a job
type RowSource interface {
	// FetchTable returns the header row followed by data rows for sourceID/rng.
	// Fails with a source access or source not found error.
	FetchTable(ctx context.Context, sourceID, rng string) (models.RawTable, error)

	// ProbeAccess reports whether sourceID is readable. Never returns an error.
	ProbeAccess(ctx context.Context, sourceID string) bool

	// Metadata describes the spreadsheet behind sourceID
	Metadata(ctx context.Context, sourceID string) (*models.SourceMetadata, error)
}

// FieldMapper resolves mapping rules and checks rows against them
type FieldMapper interface {
	Resolve(mappingID string) (*models.MappingRule, error)
	ValidateRow(row models.MappedRow, rule *models.MappingRule) models.ValidationResult
	List() []models.MappingSummary
}
