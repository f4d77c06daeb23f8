package web

// errors.go provides unified error response handling for the web layer.
//
// Handlers never pick status codes for engine failures. They call
// respondError(w, r, err) and the mapping here decides the status, the
// machine-readable code, and the action hint from the error's type:
//
//   - Validation and formula rejections are 422 (the request was well
//     formed, the sheet refused it)
//   - Stale row/column references are 400
//   - Undo/redo with an empty history side is 409
//   - Unknown tabs are 404
//   - File problems map by cause: missing file 404, unparseable file 400,
//     other IO failures 502
//
// The technical error is logged with the request ID for correlation; the
// client only sees the friendly message.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/orenccl/jsonsheet/internal/session"
	"github.com/orenccl/jsonsheet/internal/sheet"
	"github.com/orenccl/jsonsheet/internal/sheetio"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// mapError translates an engine error into a status code and client response.
func mapError(err error) (int, ErrorResponse) {
	var valErr *sheet.ValidationError
	if errors.As(err, &valErr) {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Message: valErr.Error(),
			Action:  "Fix the input or adjust the column's type and rule.",
			Code:    "VALIDATION_FAILED",
		}
	}

	var formulaErr *sheet.FormulaError
	if errors.As(err, &formulaErr) {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Message: formulaErr.Error(),
			Action:  "Check the expression syntax and column names.",
			Code:    "FORMULA_INVALID",
		}
	}

	var ioErr *sheetio.IOError
	if errors.As(err, &ioErr) {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return http.StatusNotFound, ErrorResponse{
				Message: "File not found: " + ioErr.Path,
				Action:  "Check the path and try again.",
				Code:    "FILE_NOT_FOUND",
			}
		case ioErr.Op == "decode":
			return http.StatusBadRequest, ErrorResponse{
				Message: "File is not a valid sheet: " + ioErr.Path,
				Action:  "The file must be a JSON array of flat objects.",
				Code:    "FILE_INVALID",
			}
		default:
			return http.StatusBadGateway, ErrorResponse{
				Message: "File operation failed: " + ioErr.Error(),
				Action:  "Check file permissions and disk space.",
				Code:    "IO_FAILED",
			}
		}
	}

	switch {
	case errors.Is(err, sheet.ErrRowNotFound):
		return http.StatusBadRequest, ErrorResponse{
			Message: "Row not found.",
			Action:  "Refresh the grid; the row may have been deleted.",
			Code:    "ROW_NOT_FOUND",
		}
	case errors.Is(err, sheet.ErrColumnNotFound):
		return http.StatusBadRequest, ErrorResponse{
			Message: "Column not found.",
			Action:  "Refresh the grid; the column may have been removed.",
			Code:    "COLUMN_NOT_FOUND",
		}
	case errors.Is(err, sheet.ErrNothingToUndo):
		return http.StatusConflict, ErrorResponse{
			Message: "Nothing to undo.",
			Code:    "NOTHING_TO_UNDO",
		}
	case errors.Is(err, sheet.ErrNothingToRedo):
		return http.StatusConflict, ErrorResponse{
			Message: "Nothing to redo.",
			Code:    "NOTHING_TO_REDO",
		}
	case errors.Is(err, session.ErrTabNotFound):
		return http.StatusNotFound, ErrorResponse{
			Message: "Tab not found.",
			Action:  "List tabs to get current IDs.",
			Code:    "TAB_NOT_FOUND",
		}
	case errors.Is(err, session.ErrNoPath):
		return http.StatusBadRequest, ErrorResponse{
			Message: "Sheet has no file path.",
			Action:  "Save with an explicit path first.",
			Code:    "NO_FILE_PATH",
		}
	case errors.Is(err, session.ErrUnknownFormat):
		return http.StatusBadRequest, ErrorResponse{
			Message: "Unknown export format.",
			Action:  "Use json or xlsx.",
			Code:    "FORMAT_UNKNOWN",
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Message: "An unexpected error occurred.",
		Action:  "Try again; check server logs if it persists.",
		Code:    "INTERNAL",
	}
}

// respondError maps an engine error to a response and logs the technical
// detail server-side with the request ID for correlation.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := mapError(err)
	resp.Error = resp.Message

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", resp.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON error response for request-shape problems the
// handler detects itself (bad body, missing parameter).
func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Message: message,
		Code:    code,
	})
}

// writeJSON writes a success response. Encode failures are logged; the
// status line has already gone out by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
