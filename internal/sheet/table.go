package sheet

import (
	"sort"
	"strconv"
)

// RowID is a stable row identity. Ids come from a per-table counter, are
// assigned at creation and never reused, so row-anchored metadata survives
// sorting, filtering and undo cycles. Zero is never a valid id.
type RowID uint64

// Row is one record in the store. Cells keeps an explicit Null under a key
// rather than deleting it, so the observed column set stays stable.
type Row struct {
	ID    RowID
	Cells map[string]Value
}

// computedCell caches one formula cell's result or its evaluation error.
type computedCell struct {
	value Value
	err   error
}

// CellIssue is one non-fatal finding from export-time baking and coercion.
type CellIssue struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Reason string `json:"reason"`
}

// Table is the engine for one sheet: the row store, the metadata overlay,
// the computed-cell cache, the view projection and the undo history.
// Tables are not goroutine-safe; the session manager serializes access.
type Table struct {
	rows     []*Row
	index    map[RowID]int
	meta     *Meta
	history  *History
	view     *View
	computed map[RowID]map[string]computedCell
	nextID   RowID

	dataRev uint64
	metaRev uint64
}

// NewTable builds a table from decoded records in file order. Row ids are
// assigned sequentially starting at 1, so callers that prepared row-anchored
// metadata against record indexes can rely on id = index + 1.
func NewTable(records []map[string]Value, meta *Meta, historyLimit int) *Table {
	if meta == nil {
		meta = NewMeta()
	}
	t := &Table{
		meta:     meta,
		history:  NewHistory(historyLimit),
		view:     newView(),
		index:    make(map[RowID]int, len(records)),
		computed: make(map[RowID]map[string]computedCell),
		nextID:   1,
	}
	for _, rec := range records {
		row := &Row{ID: t.allocID(), Cells: rec}
		t.index[row.ID] = len(t.rows)
		t.rows = append(t.rows, row)
	}
	t.recomputeAll()
	return t
}

// Blank returns an empty table with a fresh overlay.
func Blank(historyLimit int) *Table {
	return NewTable(nil, NewMeta(), historyLimit)
}

func (t *Table) allocID() RowID {
	id := t.nextID
	t.nextID++
	return id
}

func (t *Table) row(id RowID) (*Row, bool) {
	pos, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return t.rows[pos], true
}

func (t *Table) reindex() {
	for pos, row := range t.rows {
		t.index[row.ID] = pos
	}
}

func (t *Table) insertRow(at int, row *Row) {
	if at < 0 {
		at = 0
	}
	if at > len(t.rows) {
		at = len(t.rows)
	}
	t.rows = append(t.rows, nil)
	copy(t.rows[at+1:], t.rows[at:])
	t.rows[at] = row
	t.reindex()
}

func (t *Table) removeRow(id RowID) (*Row, int, bool) {
	pos, ok := t.index[id]
	if !ok {
		return nil, 0, false
	}
	row := t.rows[pos]
	t.rows = append(t.rows[:pos], t.rows[pos+1:]...)
	delete(t.index, id)
	t.reindex()
	return row, pos, true
}

func (t *Table) RowCount() int { return len(t.rows) }

// Meta exposes the overlay for codecs and the API layer. Callers must treat
// it as read-only; mutations go through commands.
func (t *Table) Meta() *Meta { return t.meta }

// DataRevision increments on every command that changes row content,
// including undo and redo. MetaRevision does the same for the overlay.
func (t *Table) DataRevision() uint64 { return t.dataRev }
func (t *Table) MetaRevision() uint64 { return t.metaRev }

func (t *Table) CanUndo() bool     { return t.history.CanUndo() }
func (t *Table) CanRedo() bool     { return t.history.CanRedo() }
func (t *Table) HistoryDepth() int { return t.history.Depth() }

// HistoryLabels exposes the command names on both history sides for the
// edit-history surface.
func (t *Table) HistoryLabels() (undo, redo []string) { return t.history.Labels() }

// ColumnNames returns the effective column set: declared and comment
// columns plus every key observed in any row, ordered by the overlay's
// column order with the remainder appended lexicographically.
func (t *Table) ColumnNames() []string {
	seen := make(map[string]bool)
	for name := range t.meta.Columns {
		seen[name] = true
	}
	for name := range t.meta.CommentColumns {
		seen[name] = true
	}
	for _, row := range t.rows {
		for name := range row.Cells {
			seen[name] = true
		}
	}
	ordered := make([]string, 0, len(seen))
	used := make(map[string]bool, len(seen))
	for _, name := range t.meta.ColumnOrder {
		if seen[name] && !used[name] {
			ordered = append(ordered, name)
			used[name] = true
		}
	}
	rest := make([]string, 0, len(seen))
	for name := range seen {
		if !used[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// ExportColumns is the column order for canonical export: the effective set
// minus comment columns.
func (t *Table) ExportColumns() []string {
	all := t.ColumnNames()
	out := all[:0:0]
	for _, name := range all {
		if !t.meta.CommentColumns[name] {
			out = append(out, name)
		}
	}
	return out
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.ColumnNames() {
		if c == name {
			return true
		}
	}
	return false
}

// CellValue returns the stored literal for a cell. Missing rows report
// false; missing keys read as Null.
func (t *Table) CellValue(id RowID, col string) (Value, bool) {
	row, ok := t.row(id)
	if !ok {
		return Null, false
	}
	return row.Cells[col], true
}

// EffectiveValue is what the cell is worth: the computed result for formula
// cells (Null while the formula is failing), the stored literal otherwise.
func (t *Table) EffectiveValue(id RowID, col string) Value {
	if c, ok := t.computed[id][col]; ok {
		if c.err != nil {
			return Null
		}
		return c.value
	}
	row, ok := t.row(id)
	if !ok {
		return Null
	}
	return row.Cells[col]
}

// DisplayCell renders a cell for the grid. Failing formula cells show the
// error marker.
func (t *Table) DisplayCell(id RowID, col string) string {
	if c, ok := t.computed[id][col]; ok && c.err != nil {
		return "#ERR"
	}
	return t.EffectiveValue(id, col).Display()
}

// CellIssueAt reports the failing formula's message for a cell, if any.
func (t *Table) CellIssueAt(id RowID, col string) (string, bool) {
	if c, ok := t.computed[id][col]; ok && c.err != nil {
		return c.err.Error(), true
	}
	return "", false
}

// FormulaText returns the expression attached to a cell, without the "="
// prefix the edit surface uses.
func (t *Table) FormulaText(id RowID, col string) (string, bool) {
	return t.meta.FormulaAt(id, col)
}

// StyleFor resolves a cell's presentation: an explicit style wins, then the
// first conditional format whose rule matches the effective value.
func (t *Table) StyleFor(id RowID, col string) CellStyle {
	if s, ok := t.meta.StyleAt(id, col); ok {
		return s
	}
	for _, f := range t.meta.ConditionalFormats {
		if f.Column != col {
			continue
		}
		rule, err := parseCondRule(f.Rule)
		if err != nil {
			continue
		}
		if rule.matches(t.EffectiveValue(id, col)) {
			return f.Style
		}
	}
	return CellStyle{}
}

// recomputeRow refreshes the computed cache for one row from its formulas.
func (t *Table) recomputeRow(id RowID) {
	delete(t.computed, id)
	row, ok := t.row(id)
	if !ok {
		return
	}
	formulas := t.meta.Formulas[id]
	if len(formulas) == 0 {
		return
	}
	cells := make(map[string]computedCell, len(formulas))
	for col, expr := range formulas {
		f, err := ParseFormula(expr)
		if err != nil {
			cells[col] = computedCell{err: err}
			continue
		}
		v, err := f.Eval(row.Cells)
		if err != nil {
			cells[col] = computedCell{err: err}
			continue
		}
		cells[col] = computedCell{value: v}
	}
	t.computed[id] = cells
}

func (t *Table) recomputeAll() {
	t.computed = make(map[RowID]map[string]computedCell)
	for _, row := range t.rows {
		t.recomputeRow(row.ID)
	}
}

func (t *Table) recomputeRows(ids []RowID) {
	for _, id := range ids {
		t.recomputeRow(id)
	}
}

// Apply runs a command, pushes it onto the history and refreshes the caches
// the command's effects touch.
func (t *Table) Apply(cmd Command) error {
	if err := cmd.apply(t); err != nil {
		return err
	}
	t.history.Push(cmd)
	t.afterChange(cmd)
	return nil
}

// Undo reverses the most recent command and returns its name.
func (t *Table) Undo() (string, error) {
	cmd, err := t.history.PopUndo()
	if err != nil {
		return "", err
	}
	if err := cmd.revert(t); err != nil {
		return "", err
	}
	t.afterChange(cmd)
	return cmd.Name(), nil
}

// Redo re-applies the most recently undone command and returns its name.
func (t *Table) Redo() (string, error) {
	cmd, err := t.history.PopRedo()
	if err != nil {
		return "", err
	}
	if err := cmd.apply(t); err != nil {
		return "", err
	}
	t.afterChange(cmd)
	return cmd.Name(), nil
}

func (t *Table) afterChange(cmd Command) {
	data, meta := cmd.effects()
	if data {
		t.dataRev++
	}
	if meta {
		t.metaRev++
	}
	recomputed := false
	if rc, ok := cmd.(recomputing); ok {
		recomputed = true
		ids := rc.touchedRows()
		if ids == nil {
			t.recomputeAll()
		} else {
			t.recomputeRows(ids)
		}
	}
	// Formula commands change effective values without touching row data,
	// so cached projections go stale on recompute too.
	if data || recomputed {
		t.view.invalidate()
	}
}

// RowKeyString is the on-disk anchor for row-scoped metadata: the display
// form of the row-key cell when one is set and non-null, the row's display
// index otherwise. It uses the effective value so the anchor matches what
// export writes even when the key column itself is computed.
func (t *Table) RowKeyString(id RowID, displayIndex int) string {
	if t.meta.RowKey != "" {
		if v := t.EffectiveValue(id, t.meta.RowKey); !v.IsNull() {
			return v.Display()
		}
	}
	return strconv.Itoa(displayIndex)
}

// ExportRecords bakes the table into canonical records: display row order,
// comment columns dropped, formulas replaced by their computed values
// (failing cells export Null), declared types coerced. Coercion and formula
// failures are reported per cell, never fatal. The returned maps are fresh
// and safe to serialize outside any lock.
func (t *Table) ExportRecords() ([]map[string]Value, []CellIssue) {
	cols := t.ExportColumns()
	order := t.DisplayOrder()
	records := make([]map[string]Value, 0, len(order))
	var issues []CellIssue
	for pos, id := range order {
		rec := make(map[string]Value, len(cols))
		for _, col := range cols {
			v := t.EffectiveValue(id, col)
			if msg, bad := t.CellIssueAt(id, col); bad {
				issues = append(issues, CellIssue{Row: pos, Column: col, Reason: msg})
			}
			if spec, ok := t.meta.Columns[col]; ok && spec.Type != TypeAny {
				coerced, err := Coerce(col, v, spec.Type)
				if err != nil {
					issues = append(issues, CellIssue{Row: pos, Column: col, Reason: err.Error()})
				} else {
					v = coerced
				}
			}
			rec[col] = v
		}
		records = append(records, rec)
	}
	return records, issues
}

// DetectRowKey picks the default row-key column for records without a
// declared one: the first column in lexicographic order whose value is
// present, non-null and unique in every record. Uniqueness is judged on the
// display string, which is exactly what gets written to disk.
func DetectRowKey(records []map[string]Value) string {
	if len(records) == 0 {
		return ""
	}
	seen := make(map[string]bool)
	for _, rec := range records {
		for name := range rec {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := make(map[string]bool, len(records))
		ok := true
		for _, rec := range records {
			v, present := rec[name]
			if !present || v.IsNull() {
				ok = false
				break
			}
			key := v.Display()
			if values[key] {
				ok = false
				break
			}
			values[key] = true
		}
		if ok {
			return name
		}
	}
	return ""
}
