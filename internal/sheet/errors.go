package sheet

import (
	"errors"
	"fmt"
)

// Sentinel errors for history navigation and cell addressing.
var (
	ErrNothingToUndo  = errors.New("nothing to undo")
	ErrNothingToRedo  = errors.New("nothing to redo")
	ErrRowNotFound    = errors.New("row not found")
	ErrColumnNotFound = errors.New("column not found")
)

// ValidationError reports a cell input rejected by a column's declared type
// or validation rule. The stored value is left untouched when one is raised.
type ValidationError struct {
	Column string
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for column %q: %s (input %q)", e.Column, e.Reason, e.Input)
}

// FormulaError reports a formula that failed to parse or evaluate. Evaluation
// errors are per-cell: the affected cell renders an error marker while the
// rest of the sheet stays live.
type FormulaError struct {
	Expr   string
	Reason string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula error in %q: %s", e.Expr, e.Reason)
}

// Warning kinds raised while binding sidecar metadata to data rows.
const (
	WarnPositionalMetadata = "positional_metadata"
	WarnDuplicateKey       = "duplicate_key"
	WarnUnmatchedKey       = "unmatched_key"
	WarnInvalidType        = "invalid_type"
	WarnInvalidRule        = "invalid_rule"
)

// StructuralWarning is a non-fatal notice about metadata that could not be
// bound cleanly, index-based bindings applied verbatim, or values coerced
// during export. Warnings surface to the caller; they never abort a load.
type StructuralWarning struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (w StructuralWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
}
