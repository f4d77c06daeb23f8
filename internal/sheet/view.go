package sheet

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortDir is a sort direction. The string forms appear in the API.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

func ParseSortDir(s string) (SortDir, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return SortAsc, true
	case "desc", "descending":
		return SortDesc, true
	default:
		return "", false
	}
}

// View is the projection state: sort, filter and search. It only ever
// reorders or narrows what is shown; the row store is never touched, which
// is what keeps row-anchored metadata stable.
type View struct {
	sortColumn  string
	sortDir     SortDir
	filterCol   string
	filterQuery string
	searchQuery string

	order      []RowID
	marks      map[RowID]map[string]bool
	orderFresh bool
	marksFresh bool
}

func newView() *View {
	return &View{}
}

func (v *View) invalidate() {
	v.orderFresh = false
	v.marksFresh = false
}

// SortBy orders the projection by one column. Toggling direction on the
// same column is the caller's concern; SortState exposes what it needs.
func (t *Table) SortBy(column string, dir SortDir) error {
	if !t.hasColumn(column) {
		return ErrColumnNotFound
	}
	if dir != SortAsc && dir != SortDesc {
		dir = SortAsc
	}
	t.view.sortColumn = column
	t.view.sortDir = dir
	t.view.orderFresh = false
	return nil
}

func (t *Table) ClearSort() {
	t.view.sortColumn = ""
	t.view.sortDir = ""
	t.view.orderFresh = false
}

// SortState reports the active sort column and direction.
func (t *Table) SortState() (column string, dir SortDir, active bool) {
	return t.view.sortColumn, t.view.sortDir, t.view.sortColumn != ""
}

// SetFilter narrows visibility to rows whose display string in the column
// contains the query, case-insensitively. An empty query clears the filter.
func (t *Table) SetFilter(column, query string) error {
	if query == "" {
		t.ClearFilter()
		return nil
	}
	if !t.hasColumn(column) {
		return ErrColumnNotFound
	}
	t.view.filterCol = column
	t.view.filterQuery = query
	return nil
}

func (t *Table) ClearFilter() {
	t.view.filterCol = ""
	t.view.filterQuery = ""
}

func (t *Table) FilterState() (column, query string, active bool) {
	return t.view.filterCol, t.view.filterQuery, t.view.filterCol != ""
}

// SetSearch marks every cell whose display string contains the query,
// across all columns, independent of sort and filter. Empty clears.
func (t *Table) SetSearch(query string) {
	t.view.searchQuery = query
	t.view.marksFresh = false
}

func (t *Table) SearchQuery() string { return t.view.searchQuery }

// IsMarked reports whether a cell matched the active search.
func (t *Table) IsMarked(id RowID, col string) bool {
	t.refreshMarks()
	return t.view.marks[id][col]
}

// MatchCount is the number of cells matching the active search.
func (t *Table) MatchCount() int {
	t.refreshMarks()
	n := 0
	for _, cols := range t.view.marks {
		n += len(cols)
	}
	return n
}

func (t *Table) refreshMarks() {
	if t.view.marksFresh {
		return
	}
	t.view.marks = make(map[RowID]map[string]bool)
	if q := strings.ToLower(t.view.searchQuery); q != "" {
		cols := t.ColumnNames()
		for _, row := range t.rows {
			for _, col := range cols {
				if strings.Contains(strings.ToLower(t.DisplayCell(row.ID, col)), q) {
					if t.view.marks[row.ID] == nil {
						t.view.marks[row.ID] = make(map[string]bool)
					}
					t.view.marks[row.ID][col] = true
				}
			}
		}
	}
	t.view.marksFresh = true
}

// DisplayOrder returns every row id in projection order: the sort when one
// is active, creation order otherwise. The slice is cached; callers must
// not modify it.
func (t *Table) DisplayOrder() []RowID {
	if !t.view.orderFresh {
		t.view.order = t.computeOrder()
		t.view.orderFresh = true
	}
	return t.view.order
}

// VisibleRows is DisplayOrder narrowed by the active filter.
func (t *Table) VisibleRows() []RowID {
	order := t.DisplayOrder()
	if t.view.filterCol == "" {
		return order
	}
	query := strings.ToLower(t.view.filterQuery)
	out := make([]RowID, 0, len(order))
	for _, id := range order {
		if strings.Contains(strings.ToLower(t.DisplayCell(id, t.view.filterCol)), query) {
			out = append(out, id)
		}
	}
	return out
}

// RowAt resolves a visible display position to its row id.
func (t *Table) RowAt(pos int) (RowID, bool) {
	visible := t.VisibleRows()
	if pos < 0 || pos >= len(visible) {
		return 0, false
	}
	return visible[pos], true
}

func (t *Table) computeOrder() []RowID {
	ids := make([]RowID, len(t.rows))
	for i, row := range t.rows {
		ids[i] = row.ID
	}
	col := t.view.sortColumn
	if col == "" {
		return ids
	}
	desc := t.view.sortDir == SortDesc
	coll := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(ids, func(i, j int) bool {
		a := t.EffectiveValue(ids[i], col)
		b := t.EffectiveValue(ids[j], col)
		// Nulls sort after everything in both directions.
		if a.IsNull() || b.IsNull() {
			return !a.IsNull() && b.IsNull()
		}
		c := compareNonNull(a, b, coll)
		if desc {
			return c > 0
		}
		return c < 0
	})
	return ids
}

func kindRank(k Kind) int {
	switch k {
	case KindBool:
		return 0
	case KindNumber:
		return 1
	default:
		return 2
	}
}

// compareNonNull orders mixed-type values: bools before numbers before
// strings, numbers exactly, strings by case-insensitive collation.
func compareNonNull(a, b Value, coll *collate.Collator) int {
	ra, rb := kindRank(a.Kind()), kindRank(b.Kind())
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Kind() {
	case KindBool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case b.Bool():
			return -1
		default:
			return 1
		}
	case KindNumber:
		return compareNumbers(a.Number(), b.Number())
	default:
		return coll.CompareString(a.Display(), b.Display())
	}
}
