// Package sheet implements the in-memory spreadsheet engine.
//
// Architecture:
//
//	Table        - rows, columns, metadata, and the undo/redo history
//	Value        - typed cell payload (null, bool, number, string)
//	ColumnSpec   - declared type and validation rule for one column
//	Formula      - parsed row-scoped expression attached to a cell
//	View         - sort/filter/search projection over stable row ids
//	History      - bounded stack of invertible commands
//
// All mutations go through commands so every edit can be undone. Rows carry
// stable ids allocated from a per-table arena; sorting and filtering only
// reorder the projection, never the underlying store, so metadata keyed by
// row id survives any view change.
//
// The package has no I/O. Loading and saving files lives in sheetio, and
// multi-tab coordination lives in session.
package sheet
