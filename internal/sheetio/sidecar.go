package sheetio

// sidecar.go reads and writes the metadata overlay that rides next to a
// data file as <file>.jsheet. The sidecar is optional and every field in it
// is optional; a sheet with no metadata has no sidecar at all.
//
// Row-anchored entries (formulas, styles, comment cells) are stored keyed
// by the row-key value so they survive external reordering of the data
// file. Rows without a usable key value use their position as the key
// string. Files written before keying existed carry index-aligned arrays
// instead; those still load, bound by position, with a warning.

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/orenccl/jsonsheet/internal/sheet"
)

// SidecarSuffix is appended to the data path to form the sidecar path.
const SidecarSuffix = ".jsheet"

// SidecarPath returns the overlay path for a data file.
func SidecarPath(dataPath string) string {
	return dataPath + SidecarSuffix
}

type sidecarRule struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

type sidecarColumn struct {
	Type       string       `json:"type,omitempty"`
	Validation *sidecarRule `json:"validation,omitempty"`
}

// Sidecar is the on-disk overlay shape. The keyed_* maps are row-key
// string -> column -> payload; the plain arrays are the legacy positional
// form, index-aligned with the data file.
type Sidecar struct {
	Columns            map[string]sidecarColumn              `json:"columns,omitempty"`
	ColumnOrder        []string                              `json:"column_order,omitempty"`
	RowKey             string                                `json:"row_key,omitempty"`
	FrozenColumns      int                                   `json:"frozen_columns,omitempty"`
	CommentColumns     []string                              `json:"comment_columns,omitempty"`
	Summaries          map[string]string                     `json:"summaries,omitempty"`
	ConditionalFormats []sheet.ConditionalFormat             `json:"conditional_formats,omitempty"`
	KeyedCellFormulas  map[string]map[string]string          `json:"keyed_cell_formulas,omitempty"`
	KeyedCellStyles    map[string]map[string]sheet.CellStyle `json:"keyed_cell_styles,omitempty"`
	KeyedCommentRows   map[string]map[string]sheet.Value     `json:"keyed_comment_rows,omitempty"`
	CellFormulas       []map[string]string                   `json:"cell_formulas,omitempty"`
	CellStyles         []map[string]sheet.CellStyle          `json:"cell_styles,omitempty"`
	CommentRows        []map[string]sheet.Value              `json:"comment_rows,omitempty"`
}

// IsEmpty reports whether the sidecar carries nothing worth writing.
func (sc *Sidecar) IsEmpty() bool {
	return len(sc.Columns) == 0 &&
		len(sc.ColumnOrder) == 0 &&
		sc.RowKey == "" &&
		sc.FrozenColumns == 0 &&
		len(sc.CommentColumns) == 0 &&
		len(sc.Summaries) == 0 &&
		len(sc.ConditionalFormats) == 0 &&
		len(sc.KeyedCellFormulas) == 0 &&
		len(sc.KeyedCellStyles) == 0 &&
		len(sc.KeyedCommentRows) == 0 &&
		len(sc.CellFormulas) == 0 &&
		len(sc.CellStyles) == 0 &&
		len(sc.CommentRows) == 0
}

// LoadSidecar reads an overlay file. A missing file is not an error; it
// returns a nil sidecar.
func LoadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Path: path, Op: "read", Err: err}
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, &IOError{Path: path, Op: "decode", Err: err}
	}
	return &sc, nil
}

// SaveSidecar writes the overlay, or removes the file when there is
// nothing to keep, so data files without metadata stay sidecar-free.
func SaveSidecar(path string, sc *Sidecar) error {
	if sc == nil || sc.IsEmpty() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &IOError{Path: path, Op: "remove", Err: err}
		}
		return nil
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return &IOError{Path: path, Op: "encode", Err: err}
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// BuildMeta merges a sidecar into a fresh overlay for the given records.
// Records are addressed as row id = index + 1, matching how the table
// assigns ids at build time. Structural problems degrade to warnings; the
// merge itself never fails.
func BuildMeta(records []map[string]sheet.Value, observedOrder []string, sc *Sidecar) (*sheet.Meta, []sheet.StructuralWarning) {
	meta := sheet.NewMeta()
	meta.ColumnOrder = append([]string(nil), observedOrder...)
	var warnings []sheet.StructuralWarning
	warn := func(kind, detail string) {
		warnings = append(warnings, sheet.StructuralWarning{Kind: kind, Detail: detail})
	}

	if sc == nil {
		meta.RowKey = sheet.DetectRowKey(records)
		return meta, nil
	}

	if len(sc.ColumnOrder) > 0 {
		meta.ColumnOrder = append([]string(nil), sc.ColumnOrder...)
	}
	for _, name := range sc.CommentColumns {
		meta.CommentColumns[name] = true
	}
	if sc.FrozenColumns > 0 {
		meta.FrozenColumns = sc.FrozenColumns
	}

	for name, col := range sc.Columns {
		typ, ok := sheet.ParseColumnType(col.Type)
		if !ok {
			warn(sheet.WarnInvalidType, "column "+strconv.Quote(name)+": unknown type "+strconv.Quote(col.Type))
			continue
		}
		spec := sheet.ColumnSpec{Type: typ}
		if v := col.Validation; v != nil {
			rule := sheet.Rule{Min: v.Min, Max: v.Max, Enum: append([]string(nil), v.Enum...)}
			switch {
			case rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max:
				warn(sheet.WarnInvalidRule, "column "+strconv.Quote(name)+": range minimum exceeds maximum")
			case (rule.Min != nil || rule.Max != nil) && len(rule.Enum) > 0:
				warn(sheet.WarnInvalidRule, "column "+strconv.Quote(name)+": rule is both range and enum")
			default:
				spec.Rule = rule
			}
		}
		if !spec.IsZero() {
			meta.Columns[name] = spec
		}
	}

	for name, kind := range sc.Summaries {
		parsed, ok := sheet.ParseSummaryKind(kind)
		if !ok {
			warn(sheet.WarnInvalidType, "column "+strconv.Quote(name)+": unknown summary kind "+strconv.Quote(kind))
			continue
		}
		meta.Summaries[name] = parsed
	}

	for _, f := range sc.ConditionalFormats {
		if err := sheet.ValidateCondFormat(f); err != nil {
			warn(sheet.WarnInvalidRule, "conditional format dropped: "+err.Error())
			continue
		}
		meta.ConditionalFormats = append(meta.ConditionalFormats, f)
	}

	// Resolve the row key: the declared column when the data still has it,
	// otherwise autodetection.
	observed := make(map[string]bool, len(observedOrder))
	for _, name := range observedOrder {
		observed[name] = true
	}
	if sc.RowKey != "" && !observed[sc.RowKey] {
		warn(sheet.WarnUnmatchedKey, "row key column "+strconv.Quote(sc.RowKey)+" is not in the data")
	} else {
		meta.RowKey = sc.RowKey
	}
	if meta.RowKey == "" {
		meta.RowKey = sheet.DetectRowKey(records)
	}

	keyToID, dups := buildKeyIndex(records, meta.RowKey)
	for _, key := range dups {
		warn(sheet.WarnDuplicateKey, "row key "+strconv.Quote(key)+" is not unique; metadata binds to its first row")
	}

	resolve := func(key, what string) (sheet.RowID, bool) {
		id, ok := keyToID[key]
		if !ok {
			warn(sheet.WarnUnmatchedKey, what+" for unmatched row key "+strconv.Quote(key)+" dropped")
		}
		return id, ok
	}
	for key, cols := range sc.KeyedCellFormulas {
		id, ok := resolve(key, "formulas")
		if !ok {
			continue
		}
		for col, expr := range cols {
			meta.SetFormula(id, col, expr)
		}
	}
	for key, cols := range sc.KeyedCellStyles {
		id, ok := resolve(key, "styles")
		if !ok {
			continue
		}
		for col, style := range cols {
			meta.SetStyle(id, col, style)
		}
	}
	for key, cols := range sc.KeyedCommentRows {
		id, ok := resolve(key, "comment cells")
		if !ok {
			continue
		}
		rec := records[int(id)-1]
		for col, v := range cols {
			rec[col] = v
		}
	}

	// Legacy positional arrays bind by index, best effort.
	positional := false
	if len(sc.KeyedCellFormulas) == 0 {
		for i, cols := range sc.CellFormulas {
			if i >= len(records) || len(cols) == 0 {
				continue
			}
			positional = true
			for col, expr := range cols {
				meta.SetFormula(sheet.RowID(i+1), col, expr)
			}
		}
	}
	if len(sc.KeyedCellStyles) == 0 {
		for i, cols := range sc.CellStyles {
			if i >= len(records) || len(cols) == 0 {
				continue
			}
			positional = true
			for col, style := range cols {
				meta.SetStyle(sheet.RowID(i+1), col, style)
			}
		}
	}
	if len(sc.KeyedCommentRows) == 0 {
		for i, cols := range sc.CommentRows {
			if i >= len(records) || len(cols) == 0 {
				continue
			}
			positional = true
			for col, v := range cols {
				records[i][col] = v
			}
		}
	}
	if positional {
		warn(sheet.WarnPositionalMetadata, "row metadata bound by position; it will not follow external reordering")
	}

	return meta, warnings
}

// buildKeyIndex maps row-key strings to row ids and reports duplicated key
// values. Real key values win; rows without one are reachable by their
// index string, mirroring how BuildSidecar writes them.
func buildKeyIndex(records []map[string]sheet.Value, rowKey string) (map[string]sheet.RowID, []string) {
	idx := make(map[string]sheet.RowID, len(records))
	var dups []string
	if rowKey != "" {
		dupSeen := make(map[string]bool)
		for i, rec := range records {
			v := rec[rowKey]
			if v.IsNull() {
				continue
			}
			key := v.Display()
			if _, dup := idx[key]; dup {
				if !dupSeen[key] {
					dupSeen[key] = true
					dups = append(dups, key)
				}
				continue
			}
			idx[key] = sheet.RowID(i + 1)
		}
	}
	for i, rec := range records {
		if rowKey != "" {
			if v := rec[rowKey]; !v.IsNull() {
				continue
			}
		}
		key := strconv.Itoa(i)
		if _, taken := idx[key]; !taken {
			idx[key] = sheet.RowID(i + 1)
		}
	}
	return idx, dups
}

// BuildSidecar captures a table's overlay in the on-disk shape. The column
// order is written only when comment columns exist; otherwise the data file
// itself preserves it. The row key is written only alongside keyed entries,
// so metadata-free sheets stay sidecar-free.
func BuildSidecar(t *sheet.Table) *Sidecar {
	meta := t.Meta()
	sc := &Sidecar{}

	for name, spec := range meta.Columns {
		col := sidecarColumn{Type: string(spec.Type)}
		if !spec.Rule.IsZero() {
			col.Validation = &sidecarRule{
				Min:  spec.Rule.Min,
				Max:  spec.Rule.Max,
				Enum: append([]string(nil), spec.Rule.Enum...),
			}
		}
		if sc.Columns == nil {
			sc.Columns = make(map[string]sidecarColumn)
		}
		sc.Columns[name] = col
	}

	for name := range meta.CommentColumns {
		sc.CommentColumns = append(sc.CommentColumns, name)
	}
	sort.Strings(sc.CommentColumns)
	if len(sc.CommentColumns) > 0 {
		sc.ColumnOrder = t.ColumnNames()
	}

	if meta.FrozenColumns > 0 {
		sc.FrozenColumns = meta.FrozenColumns
	}
	for name, kind := range meta.Summaries {
		if sc.Summaries == nil {
			sc.Summaries = make(map[string]string)
		}
		sc.Summaries[name] = string(kind)
	}
	if len(meta.ConditionalFormats) > 0 {
		sc.ConditionalFormats = append([]sheet.ConditionalFormat(nil), meta.ConditionalFormats...)
	}

	keyed := false
	for pos, id := range t.DisplayOrder() {
		key := t.RowKeyString(id, pos)
		if cols := meta.Formulas[id]; len(cols) > 0 {
			if sc.KeyedCellFormulas == nil {
				sc.KeyedCellFormulas = make(map[string]map[string]string)
			}
			out := make(map[string]string, len(cols))
			for col, expr := range cols {
				out[col] = expr
			}
			sc.KeyedCellFormulas[key] = out
			keyed = true
		}
		if cols := meta.Styles[id]; len(cols) > 0 {
			if sc.KeyedCellStyles == nil {
				sc.KeyedCellStyles = make(map[string]map[string]sheet.CellStyle)
			}
			out := make(map[string]sheet.CellStyle, len(cols))
			for col, style := range cols {
				out[col] = style
			}
			sc.KeyedCellStyles[key] = out
			keyed = true
		}
		for _, col := range sc.CommentColumns {
			v, ok := t.CellValue(id, col)
			if !ok || v.IsNull() {
				continue
			}
			if sc.KeyedCommentRows == nil {
				sc.KeyedCommentRows = make(map[string]map[string]sheet.Value)
			}
			if sc.KeyedCommentRows[key] == nil {
				sc.KeyedCommentRows[key] = make(map[string]sheet.Value)
			}
			sc.KeyedCommentRows[key][col] = v
			keyed = true
		}
	}
	if keyed {
		sc.RowKey = meta.RowKey
	}
	return sc
}

// SheetFile is one loaded data file plus its merged overlay.
type SheetFile struct {
	Records  []map[string]sheet.Value
	Order    []string
	Meta     *sheet.Meta
	Warnings []sheet.StructuralWarning
}

// LoadSheet reads a data file and its sidecar and merges them.
func LoadSheet(path string) (*SheetFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()
	records, order, err := LoadRecords(f)
	if err != nil {
		return nil, &IOError{Path: path, Op: "decode", Err: err}
	}
	sc, err := LoadSidecar(SidecarPath(path))
	if err != nil {
		return nil, err
	}
	meta, warnings := BuildMeta(records, order, sc)
	return &SheetFile{Records: records, Order: order, Meta: meta, Warnings: warnings}, nil
}

// SaveSheet writes records and the overlay together: data first, written
// atomically, then the sidecar.
func SaveSheet(path string, records []map[string]sheet.Value, order []string, sc *Sidecar) error {
	data, err := MarshalRecords(records, order, "")
	if err != nil {
		return &IOError{Path: path, Op: "encode", Err: err}
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}
	return SaveSidecar(SidecarPath(path), sc)
}
