package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/sheetporter/internal/models"
)

// mappingFile is the on-disk format. One file may declare several rules:
//
//	[[mapping]]
//	id = "Contacts.Basic"
//	form_path = "/contacts/new"
//	required_fields = ["name", "email"]
//
//	[mapping.locators]
//	name = ['input[name="contact_name"]']
type mappingFile struct {
	Mapping []*models.MappingRule `toml:"mapping"`
}

// LoadFromDir registers every rule found in .toml files under dirPath.
// A missing directory is not an error. Unreadable files and invalid rules are
// logged and skipped; the count of registered rules is returned.
func (r *Registry) LoadFromDir(dirPath string) (int, error) {
	if dirPath == "" {
		return 0, nil
	}

	r.logger.Info().Str("path", dirPath).Msg("Loading mapping rules from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		r.logger.Debug().Str("path", dirPath).Msg("Mappings directory not found, using built-in rules only")
		return 0, nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read mappings directory: %w", err)
	}

	loaded, skipped := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}

		rules, err := loadMappingFile(filepath.Join(dirPath, entry.Name()))
		if err != nil {
			r.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to load mapping file")
			skipped++
			continue
		}

		for _, rule := range rules {
			if err := r.Register(rule); err != nil {
				r.logger.Warn().Err(err).Str("file", entry.Name()).Str("mapping_id", rule.ID).Msg("Mapping rule validation failed")
				skipped++
				continue
			}
			r.logger.Info().
				Str("mapping_id", rule.ID).
				Str("form_path", rule.FormPath).
				Str("file", entry.Name()).
				Msg("Loaded mapping rule from file")
			loaded++
		}
	}

	r.logger.Info().
		Int("loaded", loaded).
		Int("skipped", skipped).
		Msg("Finished loading mapping rules")

	return loaded, nil
}

func loadMappingFile(path string) ([]*models.MappingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file mappingFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	// Skip nil entries from empty tables
	rules := make([]*models.MappingRule, 0, len(file.Mapping))
	for _, rule := range file.Mapping {
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}
