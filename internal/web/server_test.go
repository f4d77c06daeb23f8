package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/orenccl/jsonsheet/internal/config"
	"github.com/orenccl/jsonsheet/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			RequestTimeout: time.Minute,
		},
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

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(&cfg, session.New(cfg, log))
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, rec).Code
}

func writeSheetFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func openTab(t *testing.T, srv *Server, path string) session.TabInfo {
	t.Helper()
	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/open", `{"path":"`+path+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[session.TabInfo](t, rec)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testConfig())
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %q, want ok", got)
	}
}

func TestTabLifecycle(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := doRequest(t, srv, http.MethodGet, "/api/tabs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decodeBody[struct {
		Tabs []session.TabInfo `json:"tabs"`
	}](t, rec)
	if len(list.Tabs) != 1 || list.Tabs[0].Title != "Untitled 1" || !list.Tabs[0].Active {
		t.Fatalf("fresh session tabs = %+v", list.Tabs)
	}
	first := list.Tabs[0].ID

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("new tab status = %d", rec.Code)
	}
	second := decodeBody[session.TabInfo](t, rec)
	if second.Title != "Untitled 2" || !second.Active {
		t.Errorf("new tab = %+v", second)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+first+"/activate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}
	if info := decodeBody[session.TabInfo](t, rec); info.ID != first || !info.Active {
		t.Errorf("activate returned %+v", info)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/tabs/"+second.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d", rec.Code)
	}
	if info := decodeBody[session.TabInfo](t, rec); info.ID != first {
		t.Errorf("active after close = %s, want %s", info.ID, first)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/no-such-tab/activate", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("bogus activate status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "TAB_NOT_FOUND" {
		t.Errorf("code = %q", code)
	}
}

func TestOpenAndGrid(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "party.json", `[
  {"id": 1, "name": "Alice", "hp": 10},
  {"id": 2, "name": "Bob", "hp": 12},
  {"id": 3, "name": "Cara", "hp": null}
]`)
	tab := openTab(t, srv, path)
	if tab.Title != "party.json" || tab.Rows != 3 || tab.Dirty {
		t.Fatalf("opened tab = %+v", tab)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("grid status = %d, body %s", rec.Code, rec.Body.String())
	}
	grid := decodeBody[gridResponse](t, rec)

	if grid.Tab.ID != tab.ID {
		t.Errorf("grid tab = %s, want %s", grid.Tab.ID, tab.ID)
	}
	if grid.TotalRows != 3 || grid.VisibleRows != 3 || len(grid.Rows) != 3 {
		t.Errorf("row counts = %d/%d/%d", grid.TotalRows, grid.VisibleRows, len(grid.Rows))
	}
	names := make([]string, len(grid.Columns))
	for i, c := range grid.Columns {
		names[i] = c.Name
	}
	if strings.Join(names, ",") != "id,name,hp" {
		t.Errorf("columns = %v", names)
	}
	if got := grid.Rows[0].Cells["name"].Display; got != "Alice" {
		t.Errorf("first name = %q", got)
	}
	if cell := grid.Rows[2].Cells["hp"]; !cell.Value.IsNull() || cell.Display != "" {
		t.Errorf("null cell = %+v", cell)
	}
	if grid.History.CanUndo || grid.History.Depth != 0 {
		t.Errorf("fresh grid history = %+v", grid.History)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid?offset=1&limit=1", "")
	page := decodeBody[gridResponse](t, rec)
	if len(page.Rows) != 1 || page.Rows[0].Cells["name"].Display != "Bob" {
		t.Errorf("paged rows = %+v", page.Rows)
	}
	if page.Offset != 1 || page.VisibleRows != 3 {
		t.Errorf("page frame = offset %d visible %d", page.Offset, page.VisibleRows)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/open", `{"path":"`+filepath.Join(t.TempDir(), "missing.json")+`"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("open missing status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "FILE_NOT_FOUND" {
		t.Errorf("code = %q", code)
	}
}

func TestSetCellAndValidation(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "s.json", `[{"id": 1, "qty": 10, "total": 0}]`)
	tab := openTab(t, srv, path)

	grid := decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	rowID := uint64(grid.Rows[0].ID)

	body := `{"row":` + jsonUint(rowID) + `,"column":"qty","input":"25"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("set cell status = %d, body %s", rec.Code, rec.Body.String())
	}
	if cell := decodeBody[gridCell](t, rec); cell.Display != "25" {
		t.Errorf("cell after edit = %+v", cell)
	}

	// Formula input computes against the row.
	body = `{"row":` + jsonUint(rowID) + `,"column":"total","input":"= qty * 2"}`
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("formula status = %d, body %s", rec.Code, rec.Body.String())
	}
	cell := decodeBody[gridCell](t, rec)
	if cell.Display != "50" || cell.Formula != "qty * 2" {
		t.Errorf("formula cell = %+v", cell)
	}

	// Unknown column is a stale reference, not a validation failure.
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells",
		`{"row":`+jsonUint(rowID)+`,"column":"ghost","input":"1"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "COLUMN_NOT_FOUND" {
		t.Errorf("ghost column: status %d code %s", rec.Code, rec.Body.String())
	}

	// Declare qty numeric, then reject a non-number.
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/column-spec",
		`{"column":"qty","type":"number"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("column-spec status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells",
		`{"row":`+jsonUint(rowID)+`,"column":"qty","input":"not a number"}`)
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "VALIDATION_FAILED" {
		t.Errorf("bad number: status %d body %s", rec.Code, rec.Body.String())
	}

	// A malformed expression is rejected at parse time.
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells",
		`{"row":`+jsonUint(rowID)+`,"column":"total","input":"= qty +"}`)
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "FORMULA_INVALID" {
		t.Errorf("bad formula: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells", `{broken`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_BODY" {
		t.Errorf("broken body: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRowAndColumnEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "s.json", `[{"id": 1}, {"id": 2}]`)
	tab := openTab(t, srv, path)

	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/rows", `{"at":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert row status = %d", rec.Code)
	}
	inserted := decodeBody[struct {
		ID   uint64 `json:"id"`
		Rows int    `json:"rows"`
	}](t, rec)
	if inserted.Rows != 3 {
		t.Errorf("rows after insert = %d", inserted.Rows)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/tabs/"+tab.ID+"/rows/"+jsonUint(inserted.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete row status = %d", rec.Code)
	}
	if got := decodeBody[map[string]int](t, rec)["rows"]; got != 2 {
		t.Errorf("rows after delete = %d", got)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/tabs/"+tab.ID+"/rows/999", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "ROW_NOT_FOUND" {
		t.Errorf("stale row: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/columns", `{"name":"notes"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add column status = %d", rec.Code)
	}
	cols := decodeBody[map[string][]string](t, rec)["columns"]
	if strings.Join(cols, ",") != "id,notes" {
		t.Errorf("columns after add = %v", cols)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/columns", `{"name":"notes"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate column status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/tabs/"+tab.ID+"/columns/notes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete column status = %d", rec.Code)
	}
	cols = decodeBody[map[string][]string](t, rec)["columns"]
	if strings.Join(cols, ",") != "id" {
		t.Errorf("columns after delete = %v", cols)
	}
}

func TestUndoRedo(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "s.json", `[{"id": 1, "hp": 10}]`)
	tab := openTab(t, srv, path)

	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/undo", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "NOTHING_TO_UNDO" {
		t.Fatalf("empty undo: status %d body %s", rec.Code, rec.Body.String())
	}

	grid := decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	rowID := jsonUint(uint64(grid.Rows[0].ID))
	doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells",
		`{"row":`+rowID+`,"column":"hp","input":"99"}`)

	rec = doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/history", "")
	hist := decodeBody[struct {
		Undo  []string `json:"undo"`
		Redo  []string `json:"redo"`
		Depth int      `json:"depth"`
	}](t, rec)
	if hist.Depth != 1 || len(hist.Undo) != 1 || hist.Undo[0] != "edit-cell" {
		t.Fatalf("history = %+v", hist)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/undo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("undo status = %d", rec.Code)
	}
	step := decodeBody[struct {
		Label   string `json:"label"`
		CanUndo bool   `json:"canUndo"`
		CanRedo bool   `json:"canRedo"`
	}](t, rec)
	if step.Label != "edit-cell" || step.CanUndo || !step.CanRedo {
		t.Errorf("undo = %+v", step)
	}

	grid = decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	if got := grid.Rows[0].Cells["hp"].Display; got != "10" {
		t.Errorf("hp after undo = %q", got)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/redo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("redo status = %d", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/redo", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "NOTHING_TO_REDO" {
		t.Errorf("exhausted redo: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestViewEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "s.json", `[
  {"id": 1, "name": "cherry"},
  {"id": 2, "name": "apple"},
  {"id": 3, "name": "banana"}
]`)
	tab := openTab(t, srv, path)

	// No direction cycles asc, desc, cleared.
	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/sort", `{"column":"name"}`)
	st := decodeBody[sortStateJSON](t, rec)
	if !st.Active || st.Direction != "asc" {
		t.Fatalf("first sort = %+v", st)
	}
	grid := decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	if grid.Rows[0].Cells["name"].Display != "apple" {
		t.Errorf("sorted first row = %q", grid.Rows[0].Cells["name"].Display)
	}

	st = decodeBody[sortStateJSON](t, doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/sort", `{"column":"name"}`))
	if st.Direction != "desc" {
		t.Errorf("second sort = %+v", st)
	}
	st = decodeBody[sortStateJSON](t, doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/sort", `{"column":"name"}`))
	if st.Active {
		t.Errorf("third sort should clear, got %+v", st)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/sort", `{"column":"name","direction":"sideways"}`)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "DIRECTION_UNKNOWN" {
		t.Errorf("bad direction: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/filter", `{"column":"name","query":"an"}`)
	filt := decodeBody[struct {
		Filter      filterStateJSON `json:"filter"`
		VisibleRows int             `json:"visibleRows"`
	}](t, rec)
	if !filt.Filter.Active || filt.VisibleRows != 1 {
		t.Errorf("filter = %+v", filt)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/tabs/"+tab.ID+"/filter", "")
	filt = decodeBody[struct {
		Filter      filterStateJSON `json:"filter"`
		VisibleRows int             `json:"visibleRows"`
	}](t, rec)
	if filt.Filter.Active || filt.VisibleRows != 3 {
		t.Errorf("cleared filter = %+v", filt)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/search", `{"query":"a"}`)
	search := decodeBody[searchStateJSON](t, rec)
	if search.Matches != 3 {
		t.Errorf("search matches = %d, want 3", search.Matches)
	}
	grid = decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	if !grid.Rows[1].Cells["name"].Marked {
		t.Errorf("expected marked cell, got %+v", grid.Rows[1].Cells["name"])
	}
}

func TestSaveAndExport(t *testing.T) {
	srv := newTestServer(t, testConfig())
	path := writeSheetFile(t, "party.json", `[{"id": 1, "hp": 10}]`)
	tab := openTab(t, srv, path)

	grid := decodeBody[gridResponse](t, doRequest(t, srv, http.MethodGet, "/api/tabs/"+tab.ID+"/grid", ""))
	rowID := jsonUint(uint64(grid.Rows[0].ID))
	doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/cells",
		`{"row":`+rowID+`,"column":"hp","input":"99"}`)

	rec := doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/save", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body.String())
	}
	saved := decodeBody[struct {
		Tab    session.TabInfo   `json:"tab"`
		Issues []json.RawMessage `json:"issues"`
	}](t, rec)
	if saved.Tab.Dirty || len(saved.Issues) != 0 {
		t.Errorf("save result = %+v", saved)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if !strings.Contains(string(data), `"hp": 99`) {
		t.Errorf("saved file missing edit:\n%s", data)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/export?format=json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `party.json`) {
		t.Errorf("disposition = %q", cd)
	}
	want := "[\n  {\n    \"id\": 1,\n    \"hp\": 99\n  }\n]\n"
	if rec.Body.String() != want {
		t.Errorf("exported JSON = %q, want %q", rec.Body.String(), want)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/export?format=xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("xlsx export status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Errorf("xlsx body does not look like a zip archive")
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+tab.ID+"/export?format=csv", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "FORMAT_UNKNOWN" {
		t.Errorf("csv export: status %d body %s", rec.Code, rec.Body.String())
	}

	// A fresh blank tab has no path to save to.
	blank := decodeBody[session.TabInfo](t, doRequest(t, srv, http.MethodPost, "/api/tabs", ""))
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+blank.ID+"/save", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "NO_FILE_PATH" {
		t.Errorf("pathless save: status %d body %s", rec.Code, rec.Body.String())
	}

	// Save-as binds it.
	newPath := filepath.Join(t.TempDir(), "fresh.json")
	rec = doRequest(t, srv, http.MethodPost, "/api/tabs/"+blank.ID+"/save", `{"path":"`+newPath+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save-as status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("save-as file: %v", err)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"sekret"}
	srv := newTestServer(t, cfg)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz should bypass auth, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/tabs", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tabs", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tabs", nil)
	req.Header.Set("X-API-Key", "sekret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 2
	srv := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := doRequest(t, srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if code := errorCode(t, rec); code != "RATE_LIMITED" {
		t.Errorf("code = %q", code)
	}
}

func jsonUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
