package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/sheetporter/internal/models"
)

// WorkbookSource reads rows from .xlsx files in a local directory.
// Source ids are file names relative to the directory.
type WorkbookSource struct {
	dir    string
	logger arbor.ILogger
}

// NewWorkbookSource creates a workbook source rooted at dir
func NewWorkbookSource(dir string, logger arbor.ILogger) *WorkbookSource {
	return &WorkbookSource{dir: dir, logger: logger}
}

// resolvePath keeps the file inside the workbook directory
func (w *WorkbookSource) resolvePath(name string) string {
	return filepath.Join(w.dir, filepath.Clean(string(filepath.Separator)+name))
}

func (w *WorkbookSource) open(sourceID string) (*excelize.File, error) {
	path := w.resolvePath(sourceID)
	f, err := excelize.OpenFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewSourceNotFoundError(sourceID, err)
		}
		return nil, models.NewSourceAccessError(sourceID, err)
	}
	return f, nil
}

// FetchTable reads rng ("Sheet1!A:C", "Sheet1!A2:C20", "A:C" or "Sheet1") from the workbook
func (w *WorkbookSource) FetchTable(ctx context.Context, sourceID, rng string) (models.RawTable, error) {
	f, err := w.open(sourceID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	spec, err := parseA1Range(rng)
	if err != nil {
		return nil, models.NewSourceNotFoundError(sourceID, err)
	}

	sheet := spec.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, models.NewSourceNotFoundError(sourceID, fmt.Errorf("sheet %q does not exist", sheet))
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, models.NewSourceAccessError(sourceID, err)
	}

	table := spec.apply(rows)

	w.logger.Info().
		Str("source_id", sourceID).
		Str("range", rng).
		Int("rows", len(table)).
		Msg("Fetched workbook data")

	return table, nil
}

// Metadata lists the workbook's sheets with their used dimensions
func (w *WorkbookSource) Metadata(ctx context.Context, sourceID string) (*models.SourceMetadata, error) {
	f, err := w.open(sourceID)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta := &models.SourceMetadata{
		Title: strings.TrimSuffix(filepath.Base(sourceID), filepath.Ext(sourceID)),
	}
	for i, name := range f.GetSheetList() {
		detail := models.SheetDetail{Title: name, SheetID: int64(i)}
		if rows, err := f.GetRows(name); err == nil {
			detail.RowCount = len(rows)
			for _, r := range rows {
				if len(r) > detail.ColumnCount {
					detail.ColumnCount = len(r)
				}
			}
		}
		meta.Sheets = append(meta.Sheets, detail)
	}
	return meta, nil
}

// ProbeAccess reports whether the workbook exists and can be opened
func (w *WorkbookSource) ProbeAccess(ctx context.Context, sourceID string) bool {
	if _, err := os.Stat(w.resolvePath(sourceID)); err != nil {
		return false
	}
	f, err := w.open(sourceID)
	if err != nil {
		w.logger.Warn().Err(err).Str("source_id", sourceID).Msg("Workbook access probe failed")
		return false
	}
	f.Close()
	return true
}

// a1Range is a parsed A1-notation range. Zero bounds are open.
type a1Range struct {
	sheet    string
	startCol int // 1-based
	endCol   int
	startRow int // 1-based
	endRow   int
}

func parseA1Range(rng string) (a1Range, error) {
	var spec a1Range

	rng = strings.TrimSpace(rng)
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		spec.sheet = strings.Trim(rng[:i], "'")
		rng = rng[i+1:]
	} else if !strings.Contains(rng, ":") && !isCellRef(rng) {
		// Bare sheet name selects the whole sheet
		spec.sheet = strings.Trim(rng, "'")
		return spec, nil
	}

	if rng == "" {
		return spec, nil
	}

	start, end, found := strings.Cut(rng, ":")
	if !found {
		end = start
	}

	var err error
	if spec.startCol, spec.startRow, err = parseCellBound(start); err != nil {
		return spec, err
	}
	if spec.endCol, spec.endRow, err = parseCellBound(end); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseCellBound parses "A", "A1" or "1" into column and row numbers (0 = open)
func parseCellBound(ref string) (col, row int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	letters := strings.TrimRightFunc(ref, func(r rune) bool { return r >= '0' && r <= '9' })
	digits := ref[len(letters):]

	if letters != "" {
		if col, err = excelize.ColumnNameToNumber(letters); err != nil {
			return 0, 0, fmt.Errorf("invalid range bound %q: %w", ref, err)
		}
	}
	if digits != "" {
		if row, err = strconv.Atoi(digits); err != nil || row < 1 {
			return 0, 0, fmt.Errorf("invalid range bound %q", ref)
		}
	}
	if letters == "" && digits == "" {
		return 0, 0, fmt.Errorf("invalid range bound %q", ref)
	}
	return col, row, nil
}

func isCellRef(s string) bool {
	col, row, err := parseCellBound(s)
	return err == nil && col > 0 && row > 0
}

// apply crops rows to the range, trimming trailing empty cells like the Sheets API does
func (r a1Range) apply(rows [][]string) models.RawTable {
	firstRow, lastRow := 0, len(rows)
	if r.startRow > 0 {
		firstRow = r.startRow - 1
	}
	if r.endRow > 0 && r.endRow < lastRow {
		lastRow = r.endRow
	}
	if firstRow > lastRow {
		firstRow = lastRow
	}

	table := make(models.RawTable, 0, lastRow-firstRow)
	for _, row := range rows[firstRow:lastRow] {
		firstCol, lastCol := 0, len(row)
		if r.startCol > 0 {
			firstCol = r.startCol - 1
		}
		if r.endCol > 0 && r.endCol < lastCol {
			lastCol = r.endCol
		}
		var cells []string
		if firstCol < lastCol {
			cells = append([]string{}, row[firstCol:lastCol]...)
		} else {
			cells = []string{}
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		table = append(table, cells)
	}

	// Sheets omits trailing empty rows as well
	for len(table) > 0 && len(table[len(table)-1]) == 0 {
		table = table[:len(table)-1]
	}
	return table
}
