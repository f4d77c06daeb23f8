package sheetio

// json.go reads and writes the canonical data file: a JSON array of flat
// objects. Loading preserves two things encoding/json normally discards:
//
//  1. Number spellings - the decoder runs with UseNumber and cell values
//     keep the literal text, so 1.50 survives a load/save round trip.
//  2. Key order - object keys are observed token by token, in file order,
//     which seeds the display column order when no override is saved.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/orenccl/jsonsheet/internal/sheet"
)

var (
	// ErrNotArray reports a data file whose top level is not a JSON array.
	ErrNotArray = errors.New("top-level JSON value is not an array")
	// ErrNotArrayOfObjects reports an array element that is not an object.
	ErrNotArrayOfObjects = errors.New("array element is not an object")
)

// IOError wraps a file-level failure with the path and operation so callers
// can render it without chasing the cause chain.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// LoadRecords decodes an array of objects from r. It returns the rows in
// file order and every distinct key in first-observation order.
func LoadRecords(r io.Reader) ([]map[string]sheet.Value, []string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, ErrNotArray
		}
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, nil, ErrNotArray
	}

	var (
		records []map[string]sheet.Value
		order   []string
		seen    = make(map[string]bool)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, nil, ErrNotArrayOfObjects
		}
		rec := make(map[string]sheet.Value)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, nil, ErrNotArrayOfObjects
			}
			var v sheet.Value
			if err := dec.Decode(&v); err != nil {
				return nil, nil, err
			}
			rec[key] = v
			if !seen[key] {
				seen[key] = true
				order = append(order, key)
			}
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil { // consume ']'
		return nil, nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after the top-level array")
	}
	return records, order, nil
}

// MarshalRecords renders records as indented JSON with keys in the given
// column order; keys outside the order are appended lexicographically so
// nothing is dropped. The output ends with a newline.
func MarshalRecords(records []map[string]sheet.Value, order []string, indent string) ([]byte, error) {
	if indent == "" {
		indent = "  "
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
		buf.WriteString(indent)
		if err := writeRecord(&buf, rec, order, indent); err != nil {
			return nil, err
		}
	}
	if len(records) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

func writeRecord(buf *bytes.Buffer, rec map[string]sheet.Value, order []string, indent string) error {
	buf.WriteByte('{')
	first := true
	write := func(col string, v sheet.Value) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteByte('\n')
		buf.WriteString(indent)
		buf.WriteString(indent)
		key, err := json.Marshal(col)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteString(": ")
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(val)
		return nil
	}
	used := make(map[string]bool, len(order))
	for _, col := range order {
		v, ok := rec[col]
		if !ok {
			continue
		}
		used[col] = true
		if err := write(col, v); err != nil {
			return err
		}
	}
	for _, col := range sortedKeys(rec) {
		if used[col] {
			continue
		}
		if err := write(col, rec[col]); err != nil {
			return err
		}
	}
	if !first {
		buf.WriteByte('\n')
		buf.WriteString(indent)
	}
	buf.WriteByte('}')
	return nil
}

func sortedKeys(rec map[string]sheet.Value) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteFileAtomic writes data through a temp file in the target directory,
// syncs it and renames it over path, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &IOError{Path: path, Op: "create temp for", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func(op string, cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Path: path, Op: op, Err: cause}
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup("sync", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Op: "rename into", Err: err}
	}
	return nil
}
