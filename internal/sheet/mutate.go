package sheet

import (
	"fmt"
	"strings"
)

// SetCellInput edits one cell from raw input. Input starting with "=" routes
// to SetCellFormula; anything else is parsed, coerced and validated, then
// committed as a literal, clearing any formula on the cell. Committing a
// value equal to the current one is suppressed and leaves no history entry.
func (t *Table) SetCellInput(id RowID, col, raw string) error {
	row, ok := t.row(id)
	if !ok {
		return ErrRowNotFound
	}
	if !t.hasColumn(col) {
		return ErrColumnNotFound
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "=") {
		return t.SetCellFormula(id, col, strings.TrimPrefix(trimmed, "="))
	}
	v := ParseInput(raw)
	committed, err := t.meta.Columns[col].CheckValue(col, v)
	if err != nil {
		return err
	}
	prior := row.Cells[col]
	formula, hadFormula := t.meta.FormulaAt(id, col)
	if committed.Equal(prior) && !hadFormula {
		return nil
	}
	return t.Apply(&editCellCmd{
		id: id, col: col,
		before: prior, after: committed,
		hadFormula: hadFormula, formula: formula,
	})
}

// SetCellFormula attaches an expression to a cell. The text is stored
// without a leading "=". An empty expression clears the cell's formula.
// Parse failures reject the edit before any state changes.
func (t *Table) SetCellFormula(id RowID, col, expr string) error {
	if _, ok := t.row(id); !ok {
		return ErrRowNotFound
	}
	if !t.hasColumn(col) {
		return ErrColumnNotFound
	}
	expr = strings.TrimSpace(expr)
	prior, hadPrior := t.meta.FormulaAt(id, col)
	if expr == "" {
		if !hadPrior {
			return nil
		}
	} else {
		if _, err := ParseFormula(expr); err != nil {
			return err
		}
		if hadPrior && prior == expr {
			return nil
		}
	}
	return t.Apply(&setFormulaCmd{
		id: id, col: col,
		before: prior, hadBefore: hadPrior, after: expr,
	})
}

// AddRow inserts a blank row at the physical position, clamped to the store
// bounds, and returns its id. Every effective column starts at Null.
func (t *Table) AddRow(at int) (RowID, error) {
	cells := make(map[string]Value)
	for _, col := range t.ColumnNames() {
		cells[col] = Null
	}
	if at < 0 {
		at = 0
	}
	if at > len(t.rows) {
		at = len(t.rows)
	}
	cmd := &addRowCmd{id: t.allocID(), at: at, cells: cells}
	if err := t.Apply(cmd); err != nil {
		return 0, err
	}
	return cmd.id, nil
}

// DeleteRow removes a row and its row-anchored metadata.
func (t *Table) DeleteRow(id RowID) error {
	pos, ok := t.index[id]
	if !ok {
		return ErrRowNotFound
	}
	row := t.rows[pos]
	return t.Apply(&deleteRowCmd{
		id: id, at: pos,
		cells:    cloneCells(row.Cells),
		formulas: cloneStrMap(t.meta.Formulas[id]),
		styles:   cloneStyleMap(t.meta.Styles[id]),
	})
}

// AddColumn appends a column to the display order and gives every row a
// Null cell for it. Adding the first column to an empty sheet also creates
// one blank row so there is something to edit.
func (t *Table) AddColumn(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Column: name, Reason: "column name is empty"}
	}
	if t.hasColumn(name) {
		return &ValidationError{Column: name, Input: name, Reason: "column already exists"}
	}
	newOrder := append(t.ColumnNames(), name)
	cmd := &addColumnCmd{
		name:       name,
		priorOrder: cloneStrings(t.meta.ColumnOrder),
		newOrder:   newOrder,
	}
	if len(t.rows) == 0 {
		cmd.bootstrapID = t.allocID()
	}
	return t.Apply(cmd)
}

// DeleteColumn removes a column from every row along with all overlay
// entries that mention it. A filter or sort on the column is cleared; that
// view change is not part of the undo record.
func (t *Table) DeleteColumn(name string) error {
	if !t.hasColumn(name) {
		return ErrColumnNotFound
	}
	cmd := &deleteColumnCmd{
		name:         name,
		cells:        make(map[RowID]Value),
		priorOrder:   cloneStrings(t.meta.ColumnOrder),
		priorFormats: cloneFormats(t.meta.ConditionalFormats),
		priorRowKey:  t.meta.RowKey,
		wasComment:   t.meta.CommentColumns[name],
		formulas:     make(map[RowID]string),
		styles:       make(map[RowID]CellStyle),
	}
	if spec, ok := t.meta.Columns[name]; ok {
		cmd.spec, cmd.hadSpec = spec, true
	}
	if kind, ok := t.meta.Summaries[name]; ok {
		cmd.summary, cmd.hadSummary = kind, true
	}
	for _, row := range t.rows {
		if v, ok := row.Cells[name]; ok {
			cmd.cells[row.ID] = v
		}
	}
	for id, cols := range t.meta.Formulas {
		if expr, ok := cols[name]; ok {
			cmd.formulas[id] = expr
		}
	}
	for id, cols := range t.meta.Styles {
		if s, ok := cols[name]; ok {
			cmd.styles[id] = s
		}
	}
	return t.Apply(cmd)
}

// ApplyFormula assigns one expression to every cell in the given rows and
// columns as a single undoable command. The expression is parsed once; a
// bad expression or address rejects the whole range.
func (t *Table) ApplyFormula(ids []RowID, cols []string, expr string) error {
	expr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(expr), "="))
	if expr == "" {
		return &FormulaError{Expr: expr, Reason: "empty expression"}
	}
	if _, err := ParseFormula(expr); err != nil {
		return err
	}
	if len(ids) == 0 || len(cols) == 0 {
		return &ValidationError{Reason: "empty range"}
	}
	for _, id := range ids {
		if _, ok := t.row(id); !ok {
			return ErrRowNotFound
		}
	}
	for _, col := range cols {
		if !t.hasColumn(col) {
			return ErrColumnNotFound
		}
	}
	cmd := &applyFormulaCmd{expr: expr, rows: cloneIDs(ids)}
	for _, id := range ids {
		for _, col := range cols {
			prior, had := t.meta.FormulaAt(id, col)
			cmd.cells = append(cmd.cells, formulaCell{id: id, col: col, prior: prior, hadPrior: had})
		}
	}
	return t.Apply(cmd)
}

// ApplyStyle sets one style on every cell in the given rows and columns as
// a single undoable command. The zero style removes styling.
func (t *Table) ApplyStyle(ids []RowID, cols []string, style CellStyle) error {
	if len(ids) == 0 || len(cols) == 0 {
		return &ValidationError{Reason: "empty range"}
	}
	for _, id := range ids {
		if _, ok := t.row(id); !ok {
			return ErrRowNotFound
		}
	}
	for _, col := range cols {
		if !t.hasColumn(col) {
			return ErrColumnNotFound
		}
	}
	cmd := &applyStyleCmd{style: style}
	for _, id := range ids {
		for _, col := range cols {
			prior, had := t.meta.StyleAt(id, col)
			cmd.cells = append(cmd.cells, styleCell{id: id, col: col, prior: prior, hadPrior: had})
		}
	}
	return t.Apply(cmd)
}

// ToggleCommentColumn flips a column's comment flag. Comment columns stay
// visible in the grid but are excluded from canonical export; their cells
// round-trip through the sidecar instead.
func (t *Table) ToggleCommentColumn(name string) error {
	if !t.hasColumn(name) {
		return ErrColumnNotFound
	}
	return t.Apply(&toggleCommentCmd{name: name, on: !t.meta.CommentColumns[name]})
}

// SetColumnSpec declares a column's type and validation rule. Declaring a
// spec for an unobserved name brings the column into the effective set.
// Existing values are not re-validated; export reports any that no longer
// conform.
func (t *Table) SetColumnSpec(name string, spec ColumnSpec) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Column: name, Reason: "column name is empty"}
	}
	if spec.Rule.Min != nil && spec.Rule.Max != nil && *spec.Rule.Min > *spec.Rule.Max {
		return &ValidationError{Column: name, Reason: "range minimum exceeds maximum"}
	}
	if (spec.Rule.Min != nil || spec.Rule.Max != nil) && len(spec.Rule.Enum) > 0 {
		return &ValidationError{Column: name, Reason: "rule cannot be both range and enum"}
	}
	cmd := &setColumnSpecCmd{name: name, next: spec}
	if prior, ok := t.meta.Columns[name]; ok {
		cmd.prior, cmd.hadPrior = prior, true
	}
	return t.Apply(cmd)
}

// SetSummary attaches an aggregate to a column; the empty kind clears it.
func (t *Table) SetSummary(name string, kind SummaryKind) error {
	if !t.hasColumn(name) {
		return ErrColumnNotFound
	}
	if kind != "" {
		normalized, ok := ParseSummaryKind(string(kind))
		if !ok {
			return &ValidationError{Column: name, Input: string(kind), Reason: "unknown summary kind"}
		}
		kind = normalized
	}
	cmd := &setSummaryCmd{name: name, next: kind}
	if prior, ok := t.meta.Summaries[name]; ok {
		cmd.prior, cmd.hadPrior = prior, true
	}
	return t.Apply(cmd)
}

// SetConditionalFormats replaces the conditional format list. Every rule is
// validated before anything changes.
func (t *Table) SetConditionalFormats(formats []ConditionalFormat) error {
	for _, f := range formats {
		if err := ValidateCondFormat(f); err != nil {
			return err
		}
	}
	return t.Apply(&setCondFormatsCmd{
		prior: cloneFormats(t.meta.ConditionalFormats),
		next:  cloneFormats(formats),
	})
}

// SetFrozenColumns pins the first n display columns. The count is clamped
// to the column count.
func (t *Table) SetFrozenColumns(n int) error {
	if n < 0 {
		return &ValidationError{Input: fmt.Sprint(n), Reason: "frozen column count is negative"}
	}
	if max := len(t.ColumnNames()); n > max {
		n = max
	}
	if n == t.meta.FrozenColumns {
		return nil
	}
	return t.Apply(&setFrozenCmd{prior: t.meta.FrozenColumns, next: n})
}

// --- commands ---

type editCellCmd struct {
	id         RowID
	col        string
	before     Value
	after      Value
	hadFormula bool
	formula    string
}

func (c *editCellCmd) Name() string               { return "edit-cell" }
func (c *editCellCmd) effects() (data, meta bool) { return true, c.hadFormula }
func (c *editCellCmd) touchedRows() []RowID       { return []RowID{c.id} }

func (c *editCellCmd) apply(t *Table) error {
	row, ok := t.row(c.id)
	if !ok {
		return ErrRowNotFound
	}
	row.Cells[c.col] = c.after
	if c.hadFormula {
		t.meta.ClearFormula(c.id, c.col)
	}
	return nil
}

func (c *editCellCmd) revert(t *Table) error {
	row, ok := t.row(c.id)
	if !ok {
		return ErrRowNotFound
	}
	row.Cells[c.col] = c.before
	if c.hadFormula {
		t.meta.SetFormula(c.id, c.col, c.formula)
	}
	return nil
}

type setFormulaCmd struct {
	metaEffect
	id        RowID
	col       string
	before    string
	hadBefore bool
	after     string
}

func (c *setFormulaCmd) Name() string {
	if c.after == "" {
		return "clear-formula"
	}
	return "set-formula"
}

func (c *setFormulaCmd) touchedRows() []RowID { return []RowID{c.id} }

func (c *setFormulaCmd) apply(t *Table) error {
	if c.after == "" {
		t.meta.ClearFormula(c.id, c.col)
	} else {
		t.meta.SetFormula(c.id, c.col, c.after)
	}
	return nil
}

func (c *setFormulaCmd) revert(t *Table) error {
	if c.hadBefore {
		t.meta.SetFormula(c.id, c.col, c.before)
	} else {
		t.meta.ClearFormula(c.id, c.col)
	}
	return nil
}

type addRowCmd struct {
	dataEffect
	id    RowID
	at    int
	cells map[string]Value
}

func (c *addRowCmd) Name() string         { return "add-row" }
func (c *addRowCmd) touchedRows() []RowID { return []RowID{c.id} }

func (c *addRowCmd) apply(t *Table) error {
	t.insertRow(c.at, &Row{ID: c.id, Cells: cloneCells(c.cells)})
	return nil
}

func (c *addRowCmd) revert(t *Table) error {
	if _, _, ok := t.removeRow(c.id); !ok {
		return ErrRowNotFound
	}
	return nil
}

type deleteRowCmd struct {
	id       RowID
	at       int
	cells    map[string]Value
	formulas map[string]string
	styles   map[string]CellStyle
}

func (c *deleteRowCmd) Name() string { return "delete-row" }

func (c *deleteRowCmd) effects() (data, meta bool) {
	return true, len(c.formulas) > 0 || len(c.styles) > 0
}

func (c *deleteRowCmd) touchedRows() []RowID { return []RowID{c.id} }

func (c *deleteRowCmd) apply(t *Table) error {
	if _, _, ok := t.removeRow(c.id); !ok {
		return ErrRowNotFound
	}
	t.meta.DropRow(c.id)
	return nil
}

func (c *deleteRowCmd) revert(t *Table) error {
	t.insertRow(c.at, &Row{ID: c.id, Cells: cloneCells(c.cells)})
	for col, expr := range c.formulas {
		t.meta.SetFormula(c.id, col, expr)
	}
	for col, s := range c.styles {
		t.meta.SetStyle(c.id, col, s)
	}
	return nil
}

type addColumnCmd struct {
	dataMetaEffect
	name        string
	priorOrder  []string
	newOrder    []string
	bootstrapID RowID
}

func (c *addColumnCmd) Name() string         { return "add-column" }
func (c *addColumnCmd) touchedRows() []RowID { return nil }

func (c *addColumnCmd) apply(t *Table) error {
	if c.bootstrapID != 0 {
		t.insertRow(0, &Row{ID: c.bootstrapID, Cells: make(map[string]Value)})
	}
	for _, row := range t.rows {
		row.Cells[c.name] = Null
	}
	t.meta.ColumnOrder = cloneStrings(c.newOrder)
	return nil
}

func (c *addColumnCmd) revert(t *Table) error {
	for _, row := range t.rows {
		delete(row.Cells, c.name)
	}
	t.meta.ColumnOrder = cloneStrings(c.priorOrder)
	if c.bootstrapID != 0 {
		if _, _, ok := t.removeRow(c.bootstrapID); !ok {
			return ErrRowNotFound
		}
	}
	return nil
}

type deleteColumnCmd struct {
	dataMetaEffect
	name         string
	cells        map[RowID]Value
	spec         ColumnSpec
	hadSpec      bool
	wasComment   bool
	summary      SummaryKind
	hadSummary   bool
	priorOrder   []string
	priorFormats []ConditionalFormat
	priorRowKey  string
	formulas     map[RowID]string
	styles       map[RowID]CellStyle
}

func (c *deleteColumnCmd) Name() string         { return "delete-column" }
func (c *deleteColumnCmd) touchedRows() []RowID { return nil }

func (c *deleteColumnCmd) apply(t *Table) error {
	for _, row := range t.rows {
		delete(row.Cells, c.name)
	}
	delete(t.meta.Columns, c.name)
	delete(t.meta.CommentColumns, c.name)
	delete(t.meta.Summaries, c.name)
	t.meta.ColumnOrder = removeString(t.meta.ColumnOrder, c.name)
	kept := t.meta.ConditionalFormats[:0:0]
	for _, f := range t.meta.ConditionalFormats {
		if f.Column != c.name {
			kept = append(kept, f)
		}
	}
	t.meta.ConditionalFormats = kept
	if t.meta.RowKey == c.name {
		t.meta.RowKey = ""
	}
	for id := range c.formulas {
		t.meta.ClearFormula(id, c.name)
	}
	for id := range c.styles {
		t.meta.SetStyle(id, c.name, CellStyle{})
	}
	if col, _, active := t.FilterState(); active && col == c.name {
		t.ClearFilter()
	}
	if col, _, active := t.SortState(); active && col == c.name {
		t.ClearSort()
	}
	return nil
}

func (c *deleteColumnCmd) revert(t *Table) error {
	for id, v := range c.cells {
		row, ok := t.row(id)
		if !ok {
			return ErrRowNotFound
		}
		row.Cells[c.name] = v
	}
	if c.hadSpec {
		t.meta.Columns[c.name] = c.spec
	}
	if c.wasComment {
		t.meta.CommentColumns[c.name] = true
	}
	if c.hadSummary {
		t.meta.Summaries[c.name] = c.summary
	}
	t.meta.ColumnOrder = cloneStrings(c.priorOrder)
	t.meta.ConditionalFormats = cloneFormats(c.priorFormats)
	t.meta.RowKey = c.priorRowKey
	for id, expr := range c.formulas {
		t.meta.SetFormula(id, c.name, expr)
	}
	for id, s := range c.styles {
		t.meta.SetStyle(id, c.name, s)
	}
	return nil
}

type formulaCell struct {
	id       RowID
	col      string
	prior    string
	hadPrior bool
}

type applyFormulaCmd struct {
	metaEffect
	expr  string
	cells []formulaCell
	rows  []RowID
}

func (c *applyFormulaCmd) Name() string         { return "apply-formula" }
func (c *applyFormulaCmd) touchedRows() []RowID { return c.rows }

func (c *applyFormulaCmd) apply(t *Table) error {
	for _, cell := range c.cells {
		t.meta.SetFormula(cell.id, cell.col, c.expr)
	}
	return nil
}

func (c *applyFormulaCmd) revert(t *Table) error {
	for _, cell := range c.cells {
		if cell.hadPrior {
			t.meta.SetFormula(cell.id, cell.col, cell.prior)
		} else {
			t.meta.ClearFormula(cell.id, cell.col)
		}
	}
	return nil
}

type styleCell struct {
	id       RowID
	col      string
	prior    CellStyle
	hadPrior bool
}

type applyStyleCmd struct {
	metaEffect
	style CellStyle
	cells []styleCell
}

func (c *applyStyleCmd) Name() string { return "apply-style" }

func (c *applyStyleCmd) apply(t *Table) error {
	for _, cell := range c.cells {
		t.meta.SetStyle(cell.id, cell.col, c.style)
	}
	return nil
}

func (c *applyStyleCmd) revert(t *Table) error {
	for _, cell := range c.cells {
		if cell.hadPrior {
			t.meta.SetStyle(cell.id, cell.col, cell.prior)
		} else {
			t.meta.SetStyle(cell.id, cell.col, CellStyle{})
		}
	}
	return nil
}

type toggleCommentCmd struct {
	metaEffect
	name string
	on   bool
}

func (c *toggleCommentCmd) Name() string { return "toggle-comment-column" }

func (c *toggleCommentCmd) apply(t *Table) error {
	if c.on {
		t.meta.CommentColumns[c.name] = true
	} else {
		delete(t.meta.CommentColumns, c.name)
	}
	return nil
}

func (c *toggleCommentCmd) revert(t *Table) error {
	if c.on {
		delete(t.meta.CommentColumns, c.name)
	} else {
		t.meta.CommentColumns[c.name] = true
	}
	return nil
}

type setColumnSpecCmd struct {
	metaEffect
	name     string
	prior    ColumnSpec
	hadPrior bool
	next     ColumnSpec
}

func (c *setColumnSpecCmd) Name() string { return "set-validation" }

func (c *setColumnSpecCmd) apply(t *Table) error {
	if c.next.IsZero() {
		delete(t.meta.Columns, c.name)
	} else {
		t.meta.Columns[c.name] = c.next
	}
	return nil
}

func (c *setColumnSpecCmd) revert(t *Table) error {
	if c.hadPrior {
		t.meta.Columns[c.name] = c.prior
	} else {
		delete(t.meta.Columns, c.name)
	}
	return nil
}

type setSummaryCmd struct {
	metaEffect
	name     string
	prior    SummaryKind
	hadPrior bool
	next     SummaryKind
}

func (c *setSummaryCmd) Name() string { return "set-summary" }

func (c *setSummaryCmd) apply(t *Table) error {
	if c.next == "" {
		delete(t.meta.Summaries, c.name)
	} else {
		t.meta.Summaries[c.name] = c.next
	}
	return nil
}

func (c *setSummaryCmd) revert(t *Table) error {
	if c.hadPrior {
		t.meta.Summaries[c.name] = c.prior
	} else {
		delete(t.meta.Summaries, c.name)
	}
	return nil
}

type setCondFormatsCmd struct {
	metaEffect
	prior []ConditionalFormat
	next  []ConditionalFormat
}

func (c *setCondFormatsCmd) Name() string { return "set-conditional-formats" }

func (c *setCondFormatsCmd) apply(t *Table) error {
	t.meta.ConditionalFormats = cloneFormats(c.next)
	return nil
}

func (c *setCondFormatsCmd) revert(t *Table) error {
	t.meta.ConditionalFormats = cloneFormats(c.prior)
	return nil
}

type setFrozenCmd struct {
	metaEffect
	prior int
	next  int
}

func (c *setFrozenCmd) Name() string { return "set-frozen-columns" }

func (c *setFrozenCmd) apply(t *Table) error {
	t.meta.FrozenColumns = c.next
	return nil
}

func (c *setFrozenCmd) revert(t *Table) error {
	t.meta.FrozenColumns = c.prior
	return nil
}

// --- small clone helpers for command capture ---

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneIDs(in []RowID) []RowID {
	return append([]RowID(nil), in...)
}

func cloneStrMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStyleMap(in map[string]CellStyle) map[string]CellStyle {
	out := make(map[string]CellStyle, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFormats(in []ConditionalFormat) []ConditionalFormat {
	return append([]ConditionalFormat(nil), in...)
}

func removeString(in []string, s string) []string {
	out := in[:0:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
