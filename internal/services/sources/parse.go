package sources

import (
	"strings"

	"github.com/ternarybob/sheetporter/internal/models"
)

// headerColumn is a usable header cell and the column it sits in
type headerColumn struct {
	index int
	name  string
}

// ParseWithHeaders converts a raw table into mapped rows keyed by trimmed header name.
// Tables with fewer than two rows yield an empty (non-nil) slice. Empty header cells are
// skipped, a repeated header keeps its first column, and cells missing from short rows
// are left absent. RowNumber is the 1-based source row, so the first data row is 2.
func ParseWithHeaders(table models.RawTable) []models.MappedRow {
	if len(table) < 2 {
		return []models.MappedRow{}
	}

	columns := headerColumns(table[0])

	rows := make([]models.MappedRow, 0, len(table)-1)
	for i, cells := range table[1:] {
		values := make(map[string]string, len(columns))
		for _, col := range columns {
			if col.index < len(cells) {
				values[col.name] = cells[col.index]
			}
		}
		rows = append(rows, models.MappedRow{
			RowNumber: i + 2,
			Values:    values,
		})
	}

	return rows
}

// Headers returns the usable, trimmed header names of a table in column order
func Headers(table models.RawTable) []string {
	if len(table) == 0 {
		return []string{}
	}
	columns := headerColumns(table[0])
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

func headerColumns(header []string) []headerColumn {
	seen := make(map[string]bool, len(header))
	columns := make([]headerColumn, 0, len(header))
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		columns = append(columns, headerColumn{index: i, name: name})
	}
	return columns
}
