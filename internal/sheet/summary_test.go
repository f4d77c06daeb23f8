package sheet

import "testing"

func newSummaryTable(t *testing.T) *Table {
	t.Helper()
	records := []map[string]Value{
		{"g": NewString("x"), "q": NewInt(10)},
		{"g": NewString("y"), "q": NewInt(7)},
		{"g": NewString("x"), "q": NewString("3")},
		{"g": NewString("y"), "q": NewBool(true)},
		{"g": NewString("x"), "q": Null},
		{"g": NewString("y"), "q": NewString("n/a")},
	}
	return NewTable(records, NewMeta(), 100)
}

func summaryFor(t *testing.T, tbl *Table, col string) ColumnSummary {
	t.Helper()
	for _, s := range tbl.Summaries() {
		if s.Column == col {
			return s
		}
	}
	t.Fatalf("no summary for column %q", col)
	return ColumnSummary{}
}

func TestSummaries(t *testing.T) {
	// SUM reads 10 + 7 + "3" + true-as-1; AVG divides by the four numeric
	// readings; COUNT counts every non-null cell.
	cases := []struct {
		kind SummaryKind
		want string
	}{
		{SummarySum, "21"},
		{SummaryAvg, "5.25"},
		{SummaryCount, "5"},
		{SummaryMin, "1"},
		{SummaryMax, "10"},
	}
	for _, tc := range cases {
		tbl := newSummaryTable(t)
		if err := tbl.SetSummary("q", tc.kind); err != nil {
			t.Fatalf("SetSummary(%s): %v", tc.kind, err)
		}
		if got := summaryFor(t, tbl, "q").Result; got != tc.want {
			t.Errorf("%s = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestSummaries_RespectFilter(t *testing.T) {
	tbl := newSummaryTable(t)
	if err := tbl.SetSummary("q", SummarySum); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if err := tbl.SetFilter("g", "x"); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	// Visible rows are 10, "3" and null.
	if got := summaryFor(t, tbl, "q").Result; got != "13" {
		t.Errorf("filtered SUM = %q, want 13", got)
	}
}

func TestSummaries_EmptyWhenNoNumeric(t *testing.T) {
	records := []map[string]Value{
		{"q": NewString("a")},
		{"q": Null},
	}
	tbl := NewTable(records, NewMeta(), 100)
	for _, kind := range []SummaryKind{SummaryAvg, SummaryMin, SummaryMax} {
		if err := tbl.SetSummary("q", kind); err != nil {
			t.Fatalf("SetSummary(%s): %v", kind, err)
		}
		if got := summaryFor(t, tbl, "q").Result; got != "" {
			t.Errorf("%s over non-numeric column = %q, want empty", kind, got)
		}
	}
	if err := tbl.SetSummary("q", SummarySum); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if got := summaryFor(t, tbl, "q").Result; got != "0" {
		t.Errorf("SUM over non-numeric column = %q, want 0", got)
	}
}

func TestSummaries_SeeComputedValues(t *testing.T) {
	tbl := newTestTable(t)
	if err := tbl.SetSummary("hp", SummarySum); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	mustSetCell(t, tbl, 1, "hp", "=level * 100")
	// 300 computed + 7 literal.
	if got := summaryFor(t, tbl, "hp").Result; got != "307" {
		t.Errorf("SUM = %q, want 307", got)
	}
}

func TestSummaries_DisplayColumnOrder(t *testing.T) {
	tbl := newTestTable(t)
	for _, col := range []string{"level", "hp"} {
		if err := tbl.SetSummary(col, SummaryCount); err != nil {
			t.Fatalf("SetSummary(%s): %v", col, err)
		}
	}
	got := tbl.Summaries()
	if len(got) != 2 || got[0].Column != "hp" || got[1].Column != "level" {
		t.Errorf("summary order = %v, want hp then level", got)
	}
}

func TestParseSummaryKind(t *testing.T) {
	cases := []struct {
		in   string
		want SummaryKind
		ok   bool
	}{
		{"sum", SummarySum, true},
		{"SUM", SummarySum, true},
		{" avg ", SummaryAvg, true},
		{"count", SummaryCount, true},
		{"min", SummaryMin, true},
		{"max", SummaryMax, true},
		{"median", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseSummaryKind(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseSummaryKind(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
