package models

import (
	"sort"
	"strings"
)

// MappingRule describes how rows of one kind become a form submission on the target
type MappingRule struct {
	ID             string              `json:"id" toml:"id" validate:"required,mapping_id"`
	Name           string              `json:"name" toml:"name"`
	Description    string              `json:"description" toml:"description"`
	RequiredFields []string            `json:"requiredFields" toml:"required_fields" validate:"required,min=1,dive,required"`
	OptionalFields []string            `json:"optionalFields" toml:"optional_fields"`
	FormPath       string              `json:"formPath" toml:"form_path" validate:"required,startswith=/"`
	Locators       map[string][]string `json:"locators" toml:"locators"`
	SubmitLocators []string            `json:"submitLocators,omitempty" toml:"submit_locators"`
	SuccessMarkers []string            `json:"successMarkers,omitempty" toml:"success_markers"`
}

// Category returns the part of the id before the dot (e.g. "Customers")
func (m *MappingRule) Category() string {
	category, _, _ := strings.Cut(m.ID, ".")
	return category
}

// LocatedFields returns the fields that have locators, in a stable order
func (m *MappingRule) LocatedFields() []string {
	fields := make([]string, 0, len(m.Locators))
	for f := range m.Locators {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ValidationResult is the outcome of checking a row against a mapping's required fields
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// MappingSummary is the public listing of a registered mapping
type MappingSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	RequiredFields []string `json:"requiredFields"`
	OptionalFields []string `json:"optionalFields"`
}
