package sheet

import "strconv"

// ColumnSummary is one computed aggregate for the summary row.
type ColumnSummary struct {
	Column string      `json:"column"`
	Kind   SummaryKind `json:"kind"`
	Result string      `json:"result"`
}

// Summaries computes the configured aggregates over the visible rows, in
// display column order. SUM, AVG, MIN and MAX work on numeric readings
// (numbers, numeric strings, bools as 1/0); COUNT counts non-null cells.
// AVG, MIN and MAX render empty when no visible cell is numeric.
func (t *Table) Summaries() []ColumnSummary {
	if len(t.meta.Summaries) == 0 {
		return nil
	}
	visible := t.VisibleRows()
	out := make([]ColumnSummary, 0, len(t.meta.Summaries))
	for _, col := range t.ColumnNames() {
		kind, ok := t.meta.Summaries[col]
		if !ok {
			continue
		}
		out = append(out, ColumnSummary{Column: col, Kind: kind, Result: t.summarize(col, kind, visible)})
	}
	return out
}

func (t *Table) summarize(col string, kind SummaryKind, visible []RowID) string {
	var (
		sum      float64
		numeric  int
		nonNull  int
		min, max float64
	)
	for _, id := range visible {
		v := t.EffectiveValue(id, col)
		if !v.IsNull() {
			nonNull++
		}
		f, ok := v.Float()
		if !ok {
			continue
		}
		if numeric == 0 || f < min {
			min = f
		}
		if numeric == 0 || f > max {
			max = f
		}
		sum += f
		numeric++
	}
	switch kind {
	case SummarySum:
		return FormatNumber(sum)
	case SummaryAvg:
		if numeric == 0 {
			return ""
		}
		return FormatNumber(sum / float64(numeric))
	case SummaryCount:
		return strconv.Itoa(nonNull)
	case SummaryMin:
		if numeric == 0 {
			return ""
		}
		return FormatNumber(min)
	case SummaryMax:
		if numeric == 0 {
			return ""
		}
		return FormatNumber(max)
	default:
		return ""
	}
}
