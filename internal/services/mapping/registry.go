// Package mapping holds the registry of mapping rules that turn sheet rows into
// form submissions, plus the loader for operator-supplied TOML mappings.
package mapping

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/validation"
)

// Registry implements interfaces.FieldMapper over an in-memory rule set
type Registry struct {
	mu     sync.RWMutex
	rules  map[string]*models.MappingRule
	logger arbor.ILogger
}

// NewRegistry creates a registry seeded with the built-in rules
func NewRegistry(logger arbor.ILogger) *Registry {
	r := &Registry{
		rules:  make(map[string]*models.MappingRule),
		logger: logger,
	}
	for _, rule := range DefaultRules() {
		r.rules[rule.ID] = rule
	}
	return r
}

// Register adds or replaces a rule after validating it.
// Fields without locators get the generic name-based ones.
func (r *Registry) Register(rule *models.MappingRule) error {
	if rule == nil {
		return models.NewValidationError("mapping rule is nil")
	}
	if err := validation.Struct(rule); err != nil {
		return err
	}

	if rule.Locators == nil {
		rule.Locators = make(map[string][]string)
	}
	for _, field := range append(append([]string{}, rule.RequiredFields...), rule.OptionalFields...) {
		if len(rule.Locators[field]) == 0 {
			rule.Locators[field] = GenericLocators(field)
		}
	}

	r.mu.Lock()
	_, replaced := r.rules[rule.ID]
	r.rules[rule.ID] = rule
	r.mu.Unlock()

	r.logger.Debug().
		Str("mapping_id", rule.ID).
		Bool("replaced", replaced).
		Msg("Registered mapping rule")
	return nil
}

// Resolve returns the rule for mappingID. Unknown ids are an error; there is no fallback rule.
func (r *Registry) Resolve(mappingID string) (*models.MappingRule, error) {
	r.mu.RLock()
	rule, ok := r.rules[mappingID]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewUnknownMappingError(mappingID)
	}
	return rule, nil
}

// ValidateRow checks required fields in declaration order and reports the first one
// that is absent or blank after trimming.
func (r *Registry) ValidateRow(row models.MappedRow, rule *models.MappingRule) models.ValidationResult {
	for _, field := range rule.RequiredFields {
		value, ok := row.Get(field)
		if !ok || strings.TrimSpace(value) == "" {
			return models.ValidationResult{
				Valid:  false,
				Reason: fmt.Sprintf("Required field '%s' is missing or empty", field),
			}
		}
	}
	return models.ValidationResult{Valid: true}
}

// List returns summaries of all rules sorted by id
func (r *Registry) List() []models.MappingSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.MappingSummary, 0, len(r.rules))
	for _, rule := range r.rules {
		summaries = append(summaries, models.MappingSummary{
			ID:             rule.ID,
			Name:           rule.Name,
			Description:    rule.Description,
			RequiredFields: append([]string{}, rule.RequiredFields...),
			OptionalFields: append([]string{}, rule.OptionalFields...),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}
