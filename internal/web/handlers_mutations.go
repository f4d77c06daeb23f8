package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orenccl/jsonsheet/internal/session"
	"github.com/orenccl/jsonsheet/internal/sheet"
)

// handleSetCell edits one cell from raw input. Input starting with "=" sets
// a formula; anything else commits a literal.
func (s *Server) handleSetCell(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Row    uint64 `json:"row"`
		Column string `json:"column"`
		Input  string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	id := sheet.RowID(req.Row)
	var cell gridCell
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.SetCellInput(id, req.Column, req.Input); err != nil {
			return err
		}
		cell = buildCell(t, id, req.Column)
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cell)
}

// handleInsertRow inserts a blank row at the given store position and
// returns its id.
func (s *Server) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		At int `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var resp struct {
		ID   sheet.RowID `json:"id"`
		Rows int         `json:"rows"`
	}
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		id, err := t.AddRow(req.At)
		if err != nil {
			return err
		}
		resp.ID = id
		resp.Rows = t.RowCount()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// handleDeleteRow removes a row and its row-anchored metadata.
func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}
	rowID, err := strconv.ParseUint(chi.URLParam(r, "rowID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid row ID", "INVALID_ROW_ID")
		return
	}

	var rows int
	err = s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.DeleteRow(sheet.RowID(rowID)); err != nil {
			return err
		}
		rows = t.RowCount()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"rows": rows})
}

// handleAddColumn appends a column to the display order.
func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var columns []string
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.AddColumn(req.Name); err != nil {
			return err
		}
		columns = t.ColumnNames()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string][]string{"columns": columns})
}

// handleDeleteColumn removes a column from every row along with all overlay
// entries that mention it.
func (s *Server) handleDeleteColumn(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}
	column := chi.URLParam(r, "column")
	if column == "" {
		writeError(w, http.StatusBadRequest, "missing column name", "MISSING_COLUMN")
		return
	}

	var columns []string
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.DeleteColumn(column); err != nil {
			return err
		}
		columns = t.ColumnNames()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]string{"columns": columns})
}

// handleApplyFormula assigns one expression to every cell in the given rows
// and columns as a single undoable edit.
func (s *Server) handleApplyFormula(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Rows       []uint64 `json:"rows"`
		Columns    []string `json:"columns"`
		Expression string   `json:"expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	ids := make([]sheet.RowID, len(req.Rows))
	for i, row := range req.Rows {
		ids[i] = sheet.RowID(row)
	}

	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		return t.ApplyFormula(ids, req.Columns, req.Expression)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"cells": len(ids) * len(req.Columns)})
}

// handleFill extends a source run in one column through a target position,
// extrapolating numeric runs and copying formulas. Positions address the
// visible rows.
func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column      string `json:"column"`
		SourceStart int    `json:"sourceStart"`
		SourceEnd   int    `json:"sourceEnd"`
		TargetEnd   int    `json:"targetEnd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		return t.FillDrag(req.Column, req.SourceStart, req.SourceEnd, req.TargetEnd)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "filled"})
}

// handleSort orders the projection by one column. With an explicit direction
// it applies it; without one it cycles ascending, descending, cleared on
// repeated requests for the same column.
func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column    string `json:"column"`
		Direction string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	var explicit sheet.SortDir
	if req.Direction != "" {
		d, ok := sheet.ParseSortDir(req.Direction)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown sort direction", "DIRECTION_UNKNOWN")
			return
		}
		explicit = d
	}

	var state sortStateJSON
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		dir := explicit
		if dir == "" {
			col, cur, active := t.SortState()
			switch {
			case !active || col != req.Column:
				dir = sheet.SortAsc
			case cur == sheet.SortAsc:
				dir = sheet.SortDesc
			default:
				t.ClearSort()
				state = sortState(t)
				return nil
			}
		}
		if err := t.SortBy(req.Column, dir); err != nil {
			return err
		}
		state = sortState(t)
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// handleClearSort restores creation order.
func (s *Server) handleClearSort(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var state sortStateJSON
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		t.ClearSort()
		state = sortState(t)
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// handleFilter narrows visibility to rows whose display string in one
// column contains the query. An empty query clears the filter.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column string `json:"column"`
		Query  string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var resp struct {
		Filter      filterStateJSON `json:"filter"`
		VisibleRows int             `json:"visibleRows"`
	}
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.SetFilter(req.Column, req.Query); err != nil {
			return err
		}
		resp.Filter = filterState(t)
		resp.VisibleRows = len(t.VisibleRows())
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleClearFilter makes every row visible again.
func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var resp struct {
		Filter      filterStateJSON `json:"filter"`
		VisibleRows int             `json:"visibleRows"`
	}
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		t.ClearFilter()
		resp.Filter = filterState(t)
		resp.VisibleRows = len(t.VisibleRows())
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSearch marks every cell whose display string contains the query,
// across all columns. An empty query clears the marks.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var resp searchStateJSON
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		t.SetSearch(req.Query)
		resp = searchStateJSON{Query: t.SearchQuery(), Matches: t.MatchCount()}
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStyle sets one style on every cell in the given rows and columns.
// The zero style removes styling.
func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Rows    []uint64        `json:"rows"`
		Columns []string        `json:"columns"`
		Style   sheet.CellStyle `json:"style"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	ids := make([]sheet.RowID, len(req.Rows))
	for i, row := range req.Rows {
		ids[i] = sheet.RowID(row)
	}

	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		return t.ApplyStyle(ids, req.Columns, req.Style)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"cells": len(ids) * len(req.Columns)})
}

// handleCommentColumn flips a column's comment flag. Comment columns stay
// visible but are excluded from canonical export.
func (s *Server) handleCommentColumn(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	var comment bool
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.ToggleCommentColumn(req.Column); err != nil {
			return err
		}
		comment = t.Meta().CommentColumns[req.Column]
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"comment": comment})
}

// handleColumnSpec declares a column's type and validation rule. An empty
// type with no rule clears the declaration.
func (s *Server) handleColumnSpec(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column string      `json:"column"`
		Type   string      `json:"type"`
		Rule   *columnRule `json:"rule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	colType, ok := sheet.ParseColumnType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown column type", "TYPE_UNKNOWN")
		return
	}
	spec := sheet.ColumnSpec{Type: colType}
	if req.Rule != nil {
		spec.Rule = sheet.Rule{Min: req.Rule.Min, Max: req.Rule.Max, Enum: req.Rule.Enum}
	}

	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		return t.SetColumnSpec(req.Column, spec)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "declared"})
}

// handleSummary attaches an aggregate to a column; an empty kind clears it.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Column string `json:"column"`
		Kind   string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if req.Column == "" {
		writeError(w, http.StatusBadRequest, "column is required", "MISSING_COLUMN")
		return
	}

	var summaries []sheet.ColumnSummary
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.SetSummary(req.Column, sheet.SummaryKind(req.Kind)); err != nil {
			return err
		}
		summaries = t.Summaries()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// handleConditionalFormats replaces the conditional format list.
func (s *Server) handleConditionalFormats(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Formats []sheet.ConditionalFormat `json:"formats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		return t.SetConditionalFormats(req.Formats)
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"formats": len(req.Formats)})
}

// handleFrozenColumns pins the first n display columns.
func (s *Server) handleFrozenColumns(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var frozen int
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		if err := t.SetFrozenColumns(req.Count); err != nil {
			return err
		}
		frozen = t.Meta().FrozenColumns
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"frozenColumns": frozen})
}

// handleUndo reverts the most recent edit and reports its label.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, (*sheet.Table).Undo)
}

// handleRedo re-applies the most recently undone edit.
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.handleHistoryStep(w, r, (*sheet.Table).Redo)
}

func (s *Server) handleHistoryStep(w http.ResponseWriter, r *http.Request, step func(*sheet.Table) (string, error)) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var resp struct {
		Label   string `json:"label"`
		CanUndo bool   `json:"canUndo"`
		CanRedo bool   `json:"canRedo"`
	}
	err := s.service.Mutate(tabID, func(t *sheet.Table) error {
		label, err := step(t)
		if err != nil {
			return err
		}
		resp.Label = label
		resp.CanUndo = t.CanUndo()
		resp.CanRedo = t.CanRedo()
		return nil
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSave writes a tab's data file and sidecar. A body with a path acts
// as save-as and rebinds the tab; an empty body saves to the existing path.
// Per-cell issues make the save lossy, not failed, and are reported back.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	var issues []sheet.CellIssue
	var err error
	if req.Path != "" {
		issues, err = s.service.SaveAs(r.Context(), tabID, req.Path)
	} else {
		issues, err = s.service.Save(r.Context(), tabID)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	if issues == nil {
		issues = []sheet.CellIssue{}
	}

	info, err := s.service.Info(tabID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tab":    info,
		"issues": issues,
	})
}

// handleSaveAll saves every tab that has a path and reports per-tab issues.
func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	issues, err := s.service.SaveAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "saved",
		"issues": issues,
	})
}

// handleExport downloads a tab's baked projection as JSON or XLSX. The
// document is rendered to a buffer first so encoding failures still get a
// proper error response. Cells that could not be baked export as null; the
// response notes how many via the X-Export-Issues header.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabID")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "missing tab ID", "MISSING_TAB_ID")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = session.FormatJSON
	}

	info, err := s.service.Info(tabID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	issues, err := s.service.Export(tabID, format, &buf)
	if err != nil {
		respondError(w, r, err)
		return
	}

	base := strings.TrimSuffix(info.Title, filepath.Ext(info.Title))
	if base == "" {
		base = "sheet"
	}

	contentType := "application/json"
	if format == session.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, base, format))
	if len(issues) > 0 {
		w.Header().Set("X-Export-Issues", strconv.Itoa(len(issues)))
	}
	w.Write(buf.Bytes())
}
