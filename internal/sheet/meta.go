package sheet

import (
	"fmt"
	"strings"

	deepcopy "github.com/tiendc/go-deepcopy"
)

// SummaryKind names a column aggregate. The uppercase spellings are the
// on-disk form.
type SummaryKind string

const (
	SummarySum   SummaryKind = "SUM"
	SummaryAvg   SummaryKind = "AVG"
	SummaryCount SummaryKind = "COUNT"
	SummaryMin   SummaryKind = "MIN"
	SummaryMax   SummaryKind = "MAX"
)

func ParseSummaryKind(s string) (SummaryKind, bool) {
	switch SummaryKind(strings.ToUpper(strings.TrimSpace(s))) {
	case SummarySum:
		return SummarySum, true
	case SummaryAvg:
		return SummaryAvg, true
	case SummaryCount:
		return SummaryCount, true
	case SummaryMin:
		return SummaryMin, true
	case SummaryMax:
		return SummaryMax, true
	default:
		return "", false
	}
}

// Meta is the metadata overlay for one table: column declarations, display
// ordering, and the row-anchored formula and style maps. Row-anchored maps
// key by RowID in memory; the sidecar codec translates to row-key strings
// on disk.
type Meta struct {
	Columns            map[string]ColumnSpec
	ColumnOrder        []string
	RowKey             string
	FrozenColumns      int
	CommentColumns     map[string]bool
	Summaries          map[string]SummaryKind
	ConditionalFormats []ConditionalFormat
	Formulas           map[RowID]map[string]string
	Styles             map[RowID]map[string]CellStyle
}

func NewMeta() *Meta {
	return &Meta{
		Columns:        make(map[string]ColumnSpec),
		CommentColumns: make(map[string]bool),
		Summaries:      make(map[string]SummaryKind),
		Formulas:       make(map[RowID]map[string]string),
		Styles:         make(map[RowID]map[string]CellStyle),
	}
}

// Clone deep-copies the overlay for command capture and save snapshots.
func (m *Meta) Clone() *Meta {
	clone := NewMeta()
	if err := deepcopy.Copy(clone, m); err != nil {
		panic(fmt.Sprintf("clone overlay: %v", err))
	}
	return clone
}

func (m *Meta) FormulaAt(id RowID, col string) (string, bool) {
	expr, ok := m.Formulas[id][col]
	return expr, ok
}

func (m *Meta) SetFormula(id RowID, col, expr string) {
	if m.Formulas[id] == nil {
		m.Formulas[id] = make(map[string]string)
	}
	m.Formulas[id][col] = expr
}

// ClearFormula removes a cell's formula and returns what was there.
func (m *Meta) ClearFormula(id RowID, col string) (string, bool) {
	expr, ok := m.Formulas[id][col]
	if !ok {
		return "", false
	}
	delete(m.Formulas[id], col)
	if len(m.Formulas[id]) == 0 {
		delete(m.Formulas, id)
	}
	return expr, true
}

func (m *Meta) StyleAt(id RowID, col string) (CellStyle, bool) {
	s, ok := m.Styles[id][col]
	return s, ok
}

// SetStyle records a cell style. The zero style deletes the entry so the
// sidecar never accumulates empty objects.
func (m *Meta) SetStyle(id RowID, col string, s CellStyle) {
	if s.IsZero() {
		delete(m.Styles[id], col)
		if len(m.Styles[id]) == 0 {
			delete(m.Styles, id)
		}
		return
	}
	if m.Styles[id] == nil {
		m.Styles[id] = make(map[string]CellStyle)
	}
	m.Styles[id][col] = s
}

// DropRow removes all row-anchored metadata for a deleted row.
func (m *Meta) DropRow(id RowID) {
	delete(m.Formulas, id)
	delete(m.Styles, id)
}

// IsEmpty reports whether the overlay carries nothing worth persisting.
func (m *Meta) IsEmpty() bool {
	return len(m.Columns) == 0 && len(m.ColumnOrder) == 0 && m.RowKey == "" &&
		m.FrozenColumns == 0 && len(m.CommentColumns) == 0 && len(m.Summaries) == 0 &&
		len(m.ConditionalFormats) == 0 && len(m.Formulas) == 0 && len(m.Styles) == 0
}

// cloneCells copies one row's cell map. Values carry no references, so entry
// assignment is a complete copy.
func cloneCells(cells map[string]Value) map[string]Value {
	out := make(map[string]Value, len(cells))
	for k, v := range cells {
		out[k] = v
	}
	return out
}
