package export

// xlsx.go turns a baked projection into an Excel workbook: one worksheet,
// a bold header row from the effective column order, then one row per
// record. Values keep their types on the way over, so numbers land as
// numbers and bools as bools instead of everything flattening to text.

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/orenccl/jsonsheet/internal/sheet"
)

// sheetNameReplacer strips the characters Excel refuses in sheet names.
var sheetNameReplacer = strings.NewReplacer(":", "", "\\", "", "/", "", "?", "", "*", "", "[", "", "]", "")

// SanitizeSheetName makes an arbitrary tab title usable as a worksheet
// name: forbidden characters dropped, trimmed to Excel's 31-rune limit,
// "Sheet1" when nothing survives.
func SanitizeSheetName(name string) string {
	name = strings.TrimSpace(sheetNameReplacer.Replace(name))
	if name == "" {
		return "Sheet1"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}

// WriteXLSX streams a workbook with a single worksheet to w. Null cells
// stay empty rather than rendering as text.
func WriteXLSX(w io.Writer, name string, cols []string, rows []map[string]sheet.Value) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := SanitizeSheetName(name)
	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}

	for i, col := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell %d: %w", i+1, err)
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return fmt.Errorf("write header %q: %w", col, err)
		}
	}
	if len(cols) > 0 {
		bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return fmt.Errorf("header style: %w", err)
		}
		last, err := excelize.CoordinatesToCellName(len(cols), 1)
		if err != nil {
			return fmt.Errorf("header range: %w", err)
		}
		if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
			return fmt.Errorf("apply header style: %w", err)
		}
	}

	for r, rec := range rows {
		for c, col := range cols {
			v, ok := rec[col]
			if !ok || v.IsNull() {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return fmt.Errorf("cell name %d,%d: %w", c+1, r+2, err)
			}
			if err := f.SetCellValue(sheetName, cell, cellValue(v)); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// cellValue picks the native Excel representation for a cell. Integers
// that fit int64 stay exact; everything else numeric goes over as float.
func cellValue(v sheet.Value) any {
	switch v.Kind() {
	case sheet.KindBool:
		return v.Bool()
	case sheet.KindNumber:
		n := v.Number()
		if i, err := n.Int64(); err == nil {
			return i
		}
		if fl, err := n.Float64(); err == nil {
			return fl
		}
		return n.String()
	default:
		return v.Display()
	}
}
