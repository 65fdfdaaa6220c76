package models

// RawTable is the rectangular block of cells fetched from a source. Row 0 is the header row.
type RawTable [][]string

// MappedRow maps trimmed header names to cell values for a single data row
type MappedRow struct {
	RowNumber int               `json:"rowNumber"` // 1-based position in the source; first data row is 2
	Values    map[string]string `json:"values"`
}

// Get returns the value under field and whether the column was present
func (r MappedRow) Get(field string) (string, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// SourceMetadata describes a spreadsheet for pre-flight validation
type SourceMetadata struct {
	Title  string        `json:"title"`
	Sheets []SheetDetail `json:"sheets"`
}

// SheetDetail is one tab of a spreadsheet
type SheetDetail struct {
	Title       string `json:"title"`
	SheetID     int64  `json:"sheetId"`
	RowCount    int    `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
}
