package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orenccl/jsonsheet/internal/config"
	"github.com/orenccl/jsonsheet/internal/sheet"
	"github.com/orenccl/jsonsheet/internal/sheetio"
)

func testConfig() config.Config {
	return config.Config{
		Session: config.SessionConfig{
			HistoryLimit:     50,
			UntitledPrefix:   "Untitled",
			AutosaveMetadata: true,
		},
		Export: config.ExportConfig{
			JSONIndent:    2,
			XLSXSheetName: "Sheet1",
		},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeSheetFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewStartsWithBlankTab(t *testing.T) {
	s := newTestService(t)
	tabs := s.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("tabs = %d, want 1", len(tabs))
	}
	got := tabs[0]
	if got.Title != "Untitled 1" || !got.Active || got.Dirty || got.Rows != 0 {
		t.Errorf("blank tab = %+v", got)
	}
}

func TestNewTabAndSwitch(t *testing.T) {
	s := newTestService(t)
	first := s.Active()
	second := s.NewTab()
	if second.Title != "Untitled 2" || !second.Active {
		t.Errorf("second tab = %+v", second)
	}
	if got := s.Active(); got.ID != second.ID {
		t.Errorf("active = %s, want the new tab", got.ID)
	}

	info, err := s.SwitchTo(first.ID)
	if err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}
	if info.ID != first.ID || !info.Active {
		t.Errorf("switched to %+v", info)
	}

	if _, err := s.SwitchTo("nope"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("SwitchTo(bogus) = %v, want ErrTabNotFound", err)
	}
}

func TestOpen(t *testing.T) {
	s := newTestService(t)
	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}, {"id": 2, "hp": 7}]`)

	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.Title != "party.json" || info.Rows != 2 || info.Dirty || !info.Active {
		t.Errorf("opened tab = %+v", info)
	}

	if _, err := s.Open(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("Open(missing) succeeded")
	}
	if got := len(s.Tabs()); got != 2 {
		t.Errorf("failed open changed the session: %d tabs", got)
	}
}

func TestCloseTab(t *testing.T) {
	s := newTestService(t)
	first := s.Active()
	second := s.NewTab()
	third := s.NewTab()

	if _, err := s.SwitchTo(first.ID); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	// Closing a tab to the right of the active one leaves it active.
	info, err := s.CloseTab(second.ID)
	if err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if info.ID != first.ID {
		t.Errorf("active after closing right neighbour = %s, want %s", info.ID, first.ID)
	}

	// Closing the active tab hands over to its right neighbour.
	info, err = s.CloseTab(first.ID)
	if err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if info.ID != third.ID {
		t.Errorf("active after closing active = %s, want %s", info.ID, third.ID)
	}

	// Closing the last tab leaves a fresh blank one.
	info, err = s.CloseTab(third.ID)
	if err != nil {
		t.Fatalf("CloseTab: %v", err)
	}
	if info.ID == third.ID || info.Title != "Untitled 4" || !info.Active {
		t.Errorf("after closing last tab = %+v", info)
	}
	if got := len(s.Tabs()); got != 1 {
		t.Errorf("tabs = %d, want 1", got)
	}

	if _, err := s.CloseTab("nope"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("CloseTab(bogus) = %v, want ErrTabNotFound", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestService(t)
	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}]`)
	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = s.Mutate(info.ID, func(tb *sheet.Table) error {
		return tb.SetCellInput(1, "hp", "99")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if got := s.Active(); !got.Dirty {
		t.Error("edited tab is not dirty")
	}

	issues, err := s.Save(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
	if got := s.Active(); got.Dirty {
		t.Error("saved tab is still dirty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"hp": 99`) {
		t.Errorf("saved file missing edit:\n%s", data)
	}
}

func TestSaveWithoutPath(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Save(context.Background(), s.Active().ID); !errors.Is(err, ErrNoPath) {
		t.Errorf("Save(blank) = %v, want ErrNoPath", err)
	}
}

func TestSaveAs(t *testing.T) {
	s := newTestService(t)
	id := s.Active().ID
	path := filepath.Join(t.TempDir(), "fresh.json")

	if _, err := s.SaveAs(context.Background(), id, path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	got := s.Active()
	if got.Title != "fresh.json" || got.Path != path || got.Dirty {
		t.Errorf("tab after SaveAs = %+v", got)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[]\n" {
		t.Errorf("blank sheet file = %q, want empty array", data)
	}
}

func TestMetadataAutosave(t *testing.T) {
	s := newTestService(t)
	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}]`)
	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = s.Mutate(info.ID, func(tb *sheet.Table) error {
		return tb.SetCellFormula(1, "hp", "hp * 2")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	// The sidecar lands without an explicit save, and the autosaved
	// overlay no longer counts as unsaved work.
	sc, err := sheetio.LoadSidecar(sheetio.SidecarPath(path))
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	if sc == nil || len(sc.KeyedCellFormulas) == 0 {
		t.Fatalf("autosaved sidecar = %+v", sc)
	}
	if got := s.Active(); got.Dirty {
		t.Error("tab dirty after metadata autosave")
	}
}

func TestMetadataAutosaveDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Session.AutosaveMetadata = false
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}]`)
	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = s.Mutate(info.ID, func(tb *sheet.Table) error {
		return tb.SetCellFormula(1, "hp", "hp * 2")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if _, err := os.Stat(sheetio.SidecarPath(path)); !os.IsNotExist(err) {
		t.Error("sidecar written with autosave disabled")
	}
	if got := s.Active(); !got.Dirty {
		t.Error("unsaved overlay change not reflected as dirty")
	}
}

func TestSaveAll(t *testing.T) {
	s := newTestService(t)
	dir := t.TempDir()
	pathA := writeSheetFile(t, dir, "a.json", `[{"id": 1, "hp": 10}]`)
	pathB := writeSheetFile(t, dir, "b.json", `[{"id": 1, "qty": 3}]`)

	tabA, err := s.Open(pathA)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	tabB, err := s.Open(pathB)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	for tabID, edit := range map[string][2]string{
		tabA.ID: {"hp", "11"},
		tabB.ID: {"qty", "4"},
	} {
		err := s.Mutate(tabID, func(tb *sheet.Table) error {
			return tb.SetCellInput(1, edit[0], edit[1])
		})
		if err != nil {
			t.Fatalf("Mutate: %v", err)
		}
	}

	issues, err := s.SaveAll(context.Background())
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}

	for _, tab := range s.Tabs() {
		if tab.Path != "" && tab.Dirty {
			t.Errorf("tab %s still dirty after SaveAll", tab.Title)
		}
	}
	for path, want := range map[string]string{pathA: `"hp": 11`, pathB: `"qty": 4`} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %s:\n%s", filepath.Base(path), want, data)
		}
	}
}

func TestExportFormats(t *testing.T) {
	s := newTestService(t)
	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}]`)
	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var buf bytes.Buffer
	if _, err := s.Export(info.ID, FormatJSON, &buf); err != nil {
		t.Fatalf("Export json: %v", err)
	}
	want := "[\n  {\n    \"id\": 1,\n    \"hp\": 10\n  }\n]\n"
	if buf.String() != want {
		t.Errorf("json export = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if _, err := s.Export(info.ID, FormatXLSX, &buf); err != nil {
		t.Fatalf("Export xlsx: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Error("xlsx export is not a zip archive")
	}

	if _, err := s.Export(info.ID, "csv", &buf); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Export(csv) = %v, want ErrUnknownFormat", err)
	}
}

func TestViewReadsSheet(t *testing.T) {
	s := newTestService(t)
	path := writeSheetFile(t, t.TempDir(), "party.json", `[{"id": 1, "hp": 10}]`)
	info, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var got string
	err = s.View(info.ID, func(tb *sheet.Table) error {
		got = tb.DisplayCell(1, "hp")
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if got != "10" {
		t.Errorf("cell = %q, want 10", got)
	}

	if err := s.View("nope", func(*sheet.Table) error { return nil }); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("View(bogus) = %v, want ErrTabNotFound", err)
	}
}
