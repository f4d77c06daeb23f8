package sheet

import (
	"strconv"
	"testing"
)

// ============================================================================
// Input Parsing Benchmarks
// ============================================================================

// BenchmarkParseInput measures the literal-classification ladder every cell
// edit goes through.
func BenchmarkParseInput(b *testing.B) {
	inputs := []string{
		"42",
		"-3.25",
		"1e9",
		"true",
		"hello world",
		`"quoted text"`,
		"null",
		"9007199254740993",
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseInput(inputs[i%len(inputs)])
	}
}

// BenchmarkParseInputParallel exercises the ladder from concurrent sessions.
func BenchmarkParseInputParallel(b *testing.B) {
	inputs := []string{"42", "-3.25", "true", "hello world"}
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			ParseInput(inputs[i%len(inputs)])
			i++
		}
	})
}

// ============================================================================
// Formula Benchmarks
// ============================================================================

// BenchmarkParseFormula measures expression compilation, paid once per edit.
func BenchmarkParseFormula(b *testing.B) {
	exprs := []string{
		"qty * price",
		"(subtotal + shipping) * 1.08",
		`name + " (" + region + ")"`,
		"[unit price] * qty - discount",
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseFormula(exprs[i%len(exprs)]); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFormulaEval measures evaluation against one row, the unit of
// every recompute.
func BenchmarkFormulaEval(b *testing.B) {
	f, err := ParseFormula("qty * price + 5")
	if err != nil {
		b.Fatal(err)
	}
	cells := map[string]Value{
		"qty":   NewInt(12),
		"price": NewNumber("19.5"),
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.Eval(cells); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEditWithRecompute measures a literal edit on a row whose cells
// carry formulas, including the row recompute it triggers.
func BenchmarkEditWithRecompute(b *testing.B) {
	tbl := NewTable(generateRows(1000), NewMeta(), 1)
	ids := tbl.DisplayOrder()
	if err := tbl.ApplyFormula(ids, []string{"qty"}, "price * 2"); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := ids[i%len(ids)]
		if err := tbl.SetCellInput(id, "price", strconv.Itoa(i%997)); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Projection Benchmarks
// ============================================================================

// BenchmarkSort measures a full projection rebuild per iteration, on the
// exact numeric path and on the collated string path.
func BenchmarkSort(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		tbl := NewTable(generateRows(size), NewMeta(), 1)
		b.Run("numeric-"+strconv.Itoa(size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := tbl.SortBy("price", SortAsc); err != nil {
					b.Fatal(err)
				}
				tbl.DisplayOrder()
			}
		})
		b.Run("collated-"+strconv.Itoa(size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := tbl.SortBy("name", SortAsc); err != nil {
					b.Fatal(err)
				}
				tbl.DisplayOrder()
			}
		})
	}
}

// BenchmarkSearchMarks measures a whole-table search pass.
func BenchmarkSearchMarks(b *testing.B) {
	tbl := NewTable(generateRows(1000), NewMeta(), 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tbl.SetSearch("maple")
		if tbl.MatchCount() == 0 {
			b.Fatal("search found nothing")
		}
	}
}

// BenchmarkFillDrag measures a 500-row drag and the undo that reverses it.
func BenchmarkFillDrag(b *testing.B) {
	tbl := NewTable(generateRows(1000), NewMeta(), 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tbl.FillDrag("qty", 0, 1, 500); err != nil {
			b.Fatal(err)
		}
		if _, err := tbl.Undo(); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================================
// Aggregation and Export Benchmarks
// ============================================================================

// BenchmarkSummaries measures the aggregate pass over 10k visible rows.
func BenchmarkSummaries(b *testing.B) {
	tbl := NewTable(generateRows(10000), NewMeta(), 1)
	if err := tbl.SetSummary("price", SummarySum); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if got := tbl.Summaries(); len(got) != 1 {
			b.Fatal("missing summary")
		}
	}
}

// BenchmarkExportRecords measures baking 1k rows with a typed column and a
// formula column, the save-path hot spot.
func BenchmarkExportRecords(b *testing.B) {
	tbl := NewTable(generateRows(1000), NewMeta(), 1)
	if err := tbl.SetColumnSpec("qty", ColumnSpec{Type: TypeNumber}); err != nil {
		b.Fatal(err)
	}
	if err := tbl.ApplyFormula(tbl.DisplayOrder(), []string{"active"}, "qty * price"); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		records, _ := tbl.ExportRecords()
		if len(records) != 1000 {
			b.Fatal("short export")
		}
	}
}

// ============================================================================
// Benchmark Helpers
// ============================================================================

// generateRows builds deterministic test records with the column mix the
// other benchmarks lean on.
func generateRows(n int) []map[string]Value {
	names := []string{"alder", "birch", "cedar", "fir", "maple", "oak", "pine", "spruce"}
	rows := make([]map[string]Value, n)
	for i := 0; i < n; i++ {
		rows[i] = map[string]Value{
			"id":     NewInt(int64(i + 1)),
			"name":   NewString(names[i%len(names)] + "-" + strconv.Itoa(i)),
			"qty":    NewInt(int64(i % 500)),
			"price":  NewFloat(float64(i%997) + 0.5),
			"active": NewBool(i%3 == 0),
		}
	}
	return rows
}
