package sheet

// fillSource describes one source cell of a drag.
type fillSource struct {
	value     Value
	formula   string
	isFormula bool
}

type fillCell struct {
	id               RowID
	before           Value
	after            Value
	beforeFormula    string
	hadBeforeFormula bool
	afterFormula     string
	setFormula       bool
}

// FillDrag extends a contiguous source run in one column through targetEnd.
// Positions address the visible rows; the target lies above or below the
// source. A purely numeric source extrapolates: one cell steps by 1 per row
// away from the source, several cells continue the delta observed at the
// dragged edge. Source cells holding formulas copy their expression text;
// any other pattern repeats cyclically from the dragged edge. All produced
// literals must pass the column's validation or nothing is applied; the
// whole drag is one history entry.
func (t *Table) FillDrag(column string, srcStart, srcEnd, targetEnd int) error {
	if !t.hasColumn(column) {
		return ErrColumnNotFound
	}
	if srcStart > srcEnd {
		srcStart, srcEnd = srcEnd, srcStart
	}
	visible := t.VisibleRows()
	if srcStart < 0 || srcEnd >= len(visible) {
		return &ValidationError{Column: column, Reason: "source range out of bounds"}
	}
	if targetEnd < 0 || targetEnd >= len(visible) {
		return &ValidationError{Column: column, Reason: "target out of bounds"}
	}
	if targetEnd >= srcStart && targetEnd <= srcEnd {
		return &ValidationError{Column: column, Reason: "target inside the source range"}
	}
	down := targetEnd > srcEnd

	sources := make([]fillSource, 0, srcEnd-srcStart+1)
	for pos := srcStart; pos <= srcEnd; pos++ {
		id := visible[pos]
		src := fillSource{}
		if v, ok := t.CellValue(id, column); ok {
			src.value = v
		}
		if expr, ok := t.meta.FormulaAt(id, column); ok {
			src.formula = expr
			src.isFormula = true
		}
		sources = append(sources, src)
	}

	var targets []int
	if down {
		for pos := srcEnd + 1; pos <= targetEnd; pos++ {
			targets = append(targets, pos)
		}
	} else {
		for pos := srcStart - 1; pos >= targetEnd; pos-- {
			targets = append(targets, pos)
		}
	}

	floats := make([]float64, len(sources))
	numeric := true
	for i, src := range sources {
		if src.isFormula {
			numeric = false
			break
		}
		f, ok := src.value.Float()
		if !ok {
			numeric = false
			break
		}
		floats[i] = f
	}

	spec := t.meta.Columns[column]
	cmd := &fillCmd{col: column}
	if numeric {
		n := len(floats)
		var base, step float64
		if down {
			base = floats[n-1]
			step = 1
			if n > 1 {
				step = floats[n-1] - floats[n-2]
			}
		} else {
			base = floats[0]
			step = -1
			if n > 1 {
				step = floats[0] - floats[1]
			}
		}
		for j, pos := range targets {
			after := numberFromFloat(base + float64(j+1)*step)
			committed, err := spec.CheckValue(column, after)
			if err != nil {
				return err
			}
			cmd.cells = append(cmd.cells, t.captureFill(visible[pos], column, committed, "", false))
		}
	} else {
		n := len(sources)
		for j, pos := range targets {
			var src fillSource
			if down {
				src = sources[j%n]
			} else {
				src = sources[n-1-j%n]
			}
			if src.isFormula {
				cmd.cells = append(cmd.cells, t.captureFill(visible[pos], column, Null, src.formula, true))
				continue
			}
			committed, err := spec.CheckValue(column, src.value)
			if err != nil {
				return err
			}
			cmd.cells = append(cmd.cells, t.captureFill(visible[pos], column, committed, "", false))
		}
	}
	rows := make([]RowID, 0, len(cmd.cells))
	for _, cell := range cmd.cells {
		rows = append(rows, cell.id)
	}
	cmd.rows = rows
	return t.Apply(cmd)
}

func (t *Table) captureFill(id RowID, col string, after Value, afterFormula string, setFormula bool) fillCell {
	cell := fillCell{id: id, after: after, afterFormula: afterFormula, setFormula: setFormula}
	if row, ok := t.row(id); ok {
		cell.before = row.Cells[col]
	}
	cell.beforeFormula, cell.hadBeforeFormula = t.meta.FormulaAt(id, col)
	return cell
}

type fillCmd struct {
	col   string
	cells []fillCell
	rows  []RowID
}

func (c *fillCmd) Name() string { return "fill" }

func (c *fillCmd) effects() (data, meta bool) {
	for _, cell := range c.cells {
		if cell.setFormula {
			meta = true
		} else {
			data = true
			if cell.hadBeforeFormula {
				meta = true
			}
		}
	}
	return data, meta
}

func (c *fillCmd) touchedRows() []RowID { return c.rows }

func (c *fillCmd) apply(t *Table) error {
	for _, cell := range c.cells {
		row, ok := t.row(cell.id)
		if !ok {
			return ErrRowNotFound
		}
		if cell.setFormula {
			t.meta.SetFormula(cell.id, c.col, cell.afterFormula)
			continue
		}
		row.Cells[c.col] = cell.after
		if cell.hadBeforeFormula {
			t.meta.ClearFormula(cell.id, c.col)
		}
	}
	return nil
}

func (c *fillCmd) revert(t *Table) error {
	for _, cell := range c.cells {
		row, ok := t.row(cell.id)
		if !ok {
			return ErrRowNotFound
		}
		if !cell.setFormula {
			row.Cells[c.col] = cell.before
		}
		if cell.hadBeforeFormula {
			t.meta.SetFormula(cell.id, c.col, cell.beforeFormula)
		} else {
			t.meta.ClearFormula(cell.id, c.col)
		}
	}
	return nil
}
