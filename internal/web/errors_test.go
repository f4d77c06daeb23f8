package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/orenccl/jsonsheet/internal/session"
	"github.com/orenccl/jsonsheet/internal/sheet"
	"github.com/orenccl/jsonsheet/internal/sheetio"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation failure is unprocessable",
			err:        &sheet.ValidationError{Column: "hp", Input: "abc", Reason: "expected a number"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "formula rejection is unprocessable",
			err:        &sheet.FormulaError{Expr: "hp +", Reason: "unexpected end of expression"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FORMULA_INVALID",
		},
		{
			name:       "missing file maps to not found",
			err:        &sheetio.IOError{Op: "open", Path: "/tmp/missing.json", Err: os.ErrNotExist},
			wantStatus: http.StatusNotFound,
			wantCode:   "FILE_NOT_FOUND",
		},
		{
			name:       "unparseable file maps to bad request",
			err:        &sheetio.IOError{Op: "decode", Path: "notes.json", Err: sheetio.ErrNotArray},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE_INVALID",
		},
		{
			name:       "other io failure maps to bad gateway",
			err:        &sheetio.IOError{Op: "write", Path: "out.json", Err: errors.New("disk full")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "IO_FAILED",
		},
		{
			name:       "stale row reference",
			err:        sheet.ErrRowNotFound,
			wantStatus: http.StatusBadRequest,
			wantCode:   "ROW_NOT_FOUND",
		},
		{
			name:       "stale column reference",
			err:        sheet.ErrColumnNotFound,
			wantStatus: http.StatusBadRequest,
			wantCode:   "COLUMN_NOT_FOUND",
		},
		{
			name:       "empty undo history conflicts",
			err:        sheet.ErrNothingToUndo,
			wantStatus: http.StatusConflict,
			wantCode:   "NOTHING_TO_UNDO",
		},
		{
			name:       "empty redo history conflicts",
			err:        sheet.ErrNothingToRedo,
			wantStatus: http.StatusConflict,
			wantCode:   "NOTHING_TO_REDO",
		},
		{
			name:       "unknown tab is not found",
			err:        session.ErrTabNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "TAB_NOT_FOUND",
		},
		{
			name:       "pathless sheet needs save-as",
			err:        session.ErrNoPath,
			wantStatus: http.StatusBadRequest,
			wantCode:   "NO_FILE_PATH",
		},
		{
			name:       "unknown export format",
			err:        session.ErrUnknownFormat,
			wantStatus: http.StatusBadRequest,
			wantCode:   "FORMAT_UNKNOWN",
		},
		{
			name:       "wrapped sentinel still maps",
			err:        fmt.Errorf("switch tab: %w", session.ErrTabNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "TAB_NOT_FOUND",
		},
		{
			name:       "unknown error returns internal",
			err:        errors.New("some random internal error"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := mapError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("mapError() status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("mapError() code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.Message == "" {
				t.Error("mapError() returned an empty message")
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "missing tab id", "BAD_REQUEST")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Error != "missing tab id" || resp.Message != "missing tab id" {
		t.Errorf("body = %+v, want error and message set", resp)
	}
	if resp.Code != "BAD_REQUEST" {
		t.Errorf("code = %q, want BAD_REQUEST", resp.Code)
	}
}
