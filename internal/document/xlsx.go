package document

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Bounds on how much of a sheet gets scanned. Spreadsheets routinely report
// absurd used ranges after stray formatting; an implausible dimension is
// probed down to where data actually stops.
const (
	maxScanRows      = 50000
	maxScanCols      = 100
	implausibleRows  = 100000
	probeCols        = 5
	fallbackRows     = 5000
	maxCellChars     = 32000
	longPathLimit    = 180
	saveMoveAttempts = 3
	saveMoveDelay    = 2 * time.Second
)

type cellRef struct {
	sheet string
	row   int
	col   int
}

// XlsxAccessor rewrites cell text across the sheets of a workbook.
// Replacements are per-cell, so a handful of malformed rows cannot abort
// the rest of a save; failures beyond the first few are counted silently.
type XlsxAccessor struct {
	path     string
	f        *excelize.File
	failures int
	sleep    func(time.Duration)
}

// OpenXlsx loads a .xlsx workbook.
func OpenXlsx(path string) (*XlsxAccessor, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return &XlsxAccessor{path: path, f: f, sleep: time.Sleep}, nil
}

// Enumerate yields every non-empty, non-formula cell, sheet by sheet in
// workbook order, rows top to bottom. Formula cells carry derived values
// and are never touched. A sheet whose full-range read fails is retried
// once with a small fixed window, then skipped.
func (a *XlsxAccessor) Enumerate() iter.Seq[TextUnit] {
	return func(yield func(TextUnit) bool) {
		for _, sheet := range a.f.GetSheetList() {
			grid, err := a.readSheet(sheet)
			if err != nil {
				fmt.Printf("  Sheet '%s' unreadable, skipped: %v\n", sheet, err)
				continue
			}
			for ri, row := range grid {
				for ci, val := range row {
					if ci >= maxScanCols {
						break
					}
					if strings.TrimSpace(val) == "" {
						continue
					}
					if a.isFormula(sheet, ri+1, ci+1) {
						continue
					}
					unit := TextUnit{
						Ref:  cellRef{sheet: sheet, row: ri + 1, col: ci + 1},
						Text: val,
					}
					if !yield(unit) {
						return
					}
				}
			}
		}
	}
}

func (a *XlsxAccessor) isFormula(sheet string, row, col int) bool {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return false
	}
	formula, err := a.f.GetCellFormula(sheet, cell)
	return err == nil && formula != ""
}

// readSheet reads a sheet's cell values, capping implausible used ranges.
// When the reported dimension exceeds the plausibility bound, the first few
// columns are probed for the last row that actually holds data and the scan
// stops there (never beyond the hard row cap).
func (a *XlsxAccessor) readSheet(sheet string) ([][]string, error) {
	grid, err := a.streamRows(sheet, maxScanRows)
	if err != nil {
		// Retry once with a small fixed window before giving up.
		grid, err = a.streamRows(sheet, fallbackRows)
		if err != nil {
			return nil, err
		}
	}

	if dimensionRows(a.f, sheet) > implausibleRows {
		last := 0
		for ri, row := range grid {
			for ci := 0; ci < probeCols && ci < len(row); ci++ {
				if strings.TrimSpace(row[ci]) != "" {
					last = ri + 1
					break
				}
			}
		}
		if last < len(grid) {
			grid = grid[:last]
		}
	}
	return grid, nil
}

func (a *XlsxAccessor) streamRows(sheet string, limit int) ([][]string, error) {
	rows, err := a.f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grid [][]string
	for rows.Next() {
		if len(grid) >= limit {
			break
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		grid = append(grid, cols)
	}
	return grid, rows.Error()
}

func dimensionRows(f *excelize.File, sheet string) int {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil {
		return 0
	}
	parts := strings.Split(dim, ":")
	_, row, err := excelize.CellNameToCoordinates(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return row
}

// Replace writes a cell's text back, truncating to the container's cell
// limit. Cell styling lives on the cell itself, so a string write leaves it
// intact. Individual write failures do not abort the document; only the
// first few are reported.
func (a *XlsxAccessor) Replace(unit TextUnit, newText string) error {
	ref, ok := unit.Ref.(cellRef)
	if !ok {
		return fmt.Errorf("foreign unit handle %T", unit.Ref)
	}
	if len(newText) > maxCellChars {
		newText = newText[:maxCellChars]
	}
	cell, err := excelize.CoordinatesToCellName(ref.col, ref.row)
	if err != nil {
		return err
	}
	if err := a.f.SetCellStr(ref.sheet, cell, newText); err != nil {
		a.failures++
		if a.failures <= 3 {
			fmt.Printf("  Cell write failed (%s!%s): %v\n", ref.sheet, cell, err)
		}
		return nil
	}
	return nil
}

// Sample returns a fixed placeholder. Spreadsheet cells are too fragmented
// for a useful excerpt, and the corpus is uniform enough that a generic
// description translates as well.
func (a *XlsxAccessor) Sample() string {
	return "MES Excel Data"
}

// Save writes the workbook. Paths that are very long or carry characters
// the save layer chokes on are staged through a short temporary path first
// and then moved into place with a few retries.
func (a *XlsxAccessor) Save(path string) error {
	if !pathProblematic(path) {
		if err := a.f.SaveAs(path); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
		return nil
	}

	tmp, err := os.CreateTemp("", "hqt-*.xlsx")
	if err != nil {
		return fmt.Errorf("failed to stage workbook: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := a.f.SaveAs(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	var moveErr error
	for attempt := 1; attempt <= saveMoveAttempts; attempt++ {
		if moveErr = moveFile(tmpPath, path); moveErr == nil {
			return nil
		}
		if attempt < saveMoveAttempts {
			a.sleep(saveMoveDelay)
		}
	}
	os.Remove(tmpPath)
	return fmt.Errorf("failed to move staged workbook: %w", moveErr)
}

// pathProblematic reports whether a path should be staged through a short
// temporary location before the final move.
func pathProblematic(path string) bool {
	if len(path) > longPathLimit {
		return true
	}
	return strings.ContainsAny(filepath.Base(path), "[]")
}

// moveFile renames when possible and falls back to copy-and-delete across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// Close releases the workbook handle.
func (a *XlsxAccessor) Close() error {
	return a.f.Close()
}
