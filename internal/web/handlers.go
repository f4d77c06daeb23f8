package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orenccl/jsonsheet/internal/session"
	"github.com/orenccl/jsonsheet/internal/sheet"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListTabs returns every open tab in order.
func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tabs": s.service.Tabs()})
}

// handleNewTab opens a fresh blank tab and makes it active.
func (s *Server) handleNewTab(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.service.NewTab())
}

// handleOpenTab loads a sheet file and its sidecar into a new active tab.
// Merge warnings ride along on the returned tab info.
func (s *Server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required", "MISSING_PATH")
		return
	}

	info, err := s.service.Open(req.Path)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// handleActivateTab makes the given tab active.
func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	info, err := s.service.SwitchTo(tabID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleCloseTab closes a tab, discarding unsaved cell edits, and returns
// the tab that is active afterwards.
func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	info, err := s.service.CloseTab(tabID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Grid response shapes. Cells carry both the effective value and the grid
// display string so clients do not reimplement number formatting or the
// formula error marker.

type gridColumn struct {
	Name    string      `json:"name"`
	Type    string      `json:"type,omitempty"`
	Rule    *columnRule `json:"rule,omitempty"`
	Comment bool        `json:"comment,omitempty"`
	Frozen  bool        `json:"frozen,omitempty"`
	Summary string      `json:"summary,omitempty"`
}

type columnRule struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

type gridCell struct {
	Value   sheet.Value      `json:"value"`
	Display string           `json:"display"`
	Formula string           `json:"formula,omitempty"`
	Style   *sheet.CellStyle `json:"style,omitempty"`
	Marked  bool             `json:"marked,omitempty"`
	Issue   string           `json:"issue,omitempty"`
}

type gridRow struct {
	ID    sheet.RowID         `json:"id"`
	Cells map[string]gridCell `json:"cells"`
}

type sortStateJSON struct {
	Column    string `json:"column,omitempty"`
	Direction string `json:"direction,omitempty"`
	Active    bool   `json:"active"`
}

type filterStateJSON struct {
	Column string `json:"column,omitempty"`
	Query  string `json:"query,omitempty"`
	Active bool   `json:"active"`
}

type searchStateJSON struct {
	Query   string `json:"query,omitempty"`
	Matches int    `json:"matches"`
}

type historyStateJSON struct {
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
	Depth   int  `json:"depth"`
}

type gridResponse struct {
	Tab           session.TabInfo       `json:"tab"`
	Columns       []gridColumn          `json:"columns"`
	FrozenColumns int                   `json:"frozenColumns"`
	Rows          []gridRow             `json:"rows"`
	TotalRows     int                   `json:"totalRows"`
	VisibleRows   int                   `json:"visibleRows"`
	Offset        int                   `json:"offset"`
	Sort          sortStateJSON         `json:"sort"`
	Filter        filterStateJSON       `json:"filter"`
	Search        searchStateJSON       `json:"search"`
	Summaries     []sheet.ColumnSummary `json:"summaries,omitempty"`
	History       historyStateJSON      `json:"history"`
	DataRevision  uint64                `json:"dataRevision"`
	MetaRevision  uint64                `json:"metaRevision"`
}

// handleGrid returns the projected grid for one tab: visible rows in display
// order, column declarations, view state and summaries. Pagination is over
// the visible rows via ?offset and ?limit; limit 0 means all.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 0)

	info, err := s.service.Info(tabID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var resp gridResponse
	err = s.service.View(tabID, func(t *sheet.Table) error {
		resp = buildGrid(t, offset, limit)
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	resp.Tab = info

	writeJSON(w, http.StatusOK, resp)
}

func buildGrid(t *sheet.Table, offset, limit int) gridResponse {
	cols := t.ColumnNames()
	meta := t.Meta()

	columns := make([]gridColumn, len(cols))
	for i, name := range cols {
		gc := gridColumn{Name: name}
		if spec, ok := meta.Columns[name]; ok {
			gc.Type = string(spec.Type)
			if !spec.Rule.IsZero() {
				gc.Rule = &columnRule{Min: spec.Rule.Min, Max: spec.Rule.Max, Enum: spec.Rule.Enum}
			}
		}
		gc.Comment = meta.CommentColumns[name]
		gc.Frozen = i < meta.FrozenColumns
		if kind, ok := meta.Summaries[name]; ok {
			gc.Summary = string(kind)
		}
		columns[i] = gc
	}

	visible := t.VisibleRows()
	visibleCount := len(visible)
	if offset > visibleCount {
		offset = visibleCount
	}
	page := visible[offset:]
	if limit > 0 && limit < len(page) {
		page = page[:limit]
	}

	rows := make([]gridRow, len(page))
	for i, id := range page {
		cells := make(map[string]gridCell, len(cols))
		for _, col := range cols {
			cells[col] = buildCell(t, id, col)
		}
		rows[i] = gridRow{ID: id, Cells: cells}
	}

	return gridResponse{
		Columns:       columns,
		FrozenColumns: meta.FrozenColumns,
		Rows:          rows,
		TotalRows:     t.RowCount(),
		VisibleRows:   visibleCount,
		Offset:        offset,
		Sort:          sortState(t),
		Filter:        filterState(t),
		Search:        searchStateJSON{Query: t.SearchQuery(), Matches: t.MatchCount()},
		Summaries:     t.Summaries(),
		History:       historyStateJSON{CanUndo: t.CanUndo(), CanRedo: t.CanRedo(), Depth: t.HistoryDepth()},
		DataRevision:  t.DataRevision(),
		MetaRevision:  t.MetaRevision(),
	}
}

func sortState(t *sheet.Table) sortStateJSON {
	col, dir, active := t.SortState()
	return sortStateJSON{Column: col, Direction: string(dir), Active: active}
}

func filterState(t *sheet.Table) filterStateJSON {
	col, query, active := t.FilterState()
	return filterStateJSON{Column: col, Query: query, Active: active}
}

func buildCell(t *sheet.Table, id sheet.RowID, col string) gridCell {
	c := gridCell{
		Value:   t.EffectiveValue(id, col),
		Display: t.DisplayCell(id, col),
	}
	if expr, ok := t.FormulaText(id, col); ok {
		c.Formula = expr
	}
	if st := t.StyleFor(id, col); !st.IsZero() {
		c.Style = &st
	}
	if t.IsMarked(id, col) {
		c.Marked = true
	}
	if issue, ok := t.CellIssueAt(id, col); ok {
		c.Issue = issue
	}
	return c
}

// handleHistory returns the command labels on both history sides, newest
// undo last, next redo first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var resp struct {
		Undo  []string `json:"undo"`
		Redo  []string `json:"redo"`
		Depth int      `json:"depth"`
	}
	err := s.service.View(tabID, func(t *sheet.Table) error {
		resp.Undo, resp.Redo = t.HistoryLabels()
		resp.Depth = t.HistoryDepth()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseIntParam parses a non-negative integer query parameter with a
// default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
