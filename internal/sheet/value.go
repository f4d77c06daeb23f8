package sheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which member of the Value union is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is one cell's payload. The zero value is null. Values are immutable;
// copying the struct copies the payload.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
}

// Null is the empty cell value.
var Null = Value{}

func NewBool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func NewString(s string) Value {
	return Value{kind: KindString, str: s}
}

// NewNumber wraps a numeric literal verbatim. The caller is responsible for
// the text being a valid JSON number; values decoded from files keep their
// original spelling so saving an untouched sheet reproduces the input bytes.
func NewNumber(n json.Number) Value {
	return Value{kind: KindNumber, num: n}
}

func NewInt(n int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(n, 10))}
}

func NewFloat(f float64) Value {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return NewInt(int64(f))
	}
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload, false for any other kind.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Number returns the numeric payload, "" for any other kind.
func (v Value) Number() json.Number {
	if v.kind != KindNumber {
		return ""
	}
	return v.num
}

// Str returns the string payload, "" for any other kind.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}
	return v.str
}

// Display renders the value the way the grid shows it: nulls are blank,
// numbers keep their stored spelling, strings appear unquoted.
func (v Value) Display() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return string(v.num)
	case KindString:
		return v.str
	default:
		return ""
	}
}

// Float reports the value as a float64 when it has a numeric reading:
// numbers directly, strings that parse as numbers, bools as 1 or 0.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		f, err := v.num.Float64()
		return f, err == nil
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Equal compares kind and payload. Numbers compare by spelling, so "1.0" and
// "1" are distinct values even though they are numerically equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	default:
		return true
	}
}

// ParseInput converts raw user keystrokes into a typed value. The ladder
// mirrors spreadsheet conventions: blank and "null" clear the cell, booleans
// are case-insensitive, quoting forces string, and anything that parses as a
// number becomes one. Everything else stays text.
func ParseInput(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return Null
	}
	if strings.EqualFold(trimmed, "true") {
		return NewBool(true)
	}
	if strings.EqualFold(trimmed, "false") {
		return NewBool(false)
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return NewString(s)
		}
		return NewString(trimmed[1 : len(trimmed)-1])
	}
	if len(trimmed) >= 2 && trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'' {
		return NewString(trimmed[1 : len(trimmed)-1])
	}
	if n, ok := parseNumber(trimmed); ok {
		return NewNumber(n)
	}
	return NewString(trimmed)
}

// parseNumber tries integer readings before falling back to float so large
// integers keep exact spellings instead of drifting through float64.
func parseNumber(text string) (json.Number, bool) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return json.Number(strconv.FormatInt(n, 10)), true
	}
	if n, err := strconv.ParseUint(text, 10, 64); err == nil {
		return json.Number(strconv.FormatUint(n, 10)), true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), true
	}
	return "", false
}

// FormatNumber renders a computed float for display: integral results print
// without a decimal point, everything else prints with up to six decimals,
// trailing zeros trimmed.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// compareNumbers orders two numeric spellings without losing precision when
// both fit in the same integer width.
func compareNumbers(a, b json.Number) int {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	au, aerr := strconv.ParseUint(string(a), 10, 64)
	bu, berr := strconv.ParseUint(string(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case au < bu:
			return -1
		case au > bu:
			return 1
		default:
			return 0
		}
	}
	af, _ := a.Float64()
	bf, _ := b.Float64()
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

// MarshalJSON writes the value as its native JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNumber:
		return []byte(v.num), nil
	case KindString:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any JSON value. Scalars map onto the union directly;
// arrays and objects are flattened to their compact JSON text so nested
// structures survive editing as opaque strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case 'n':
		*v = Null
		return nil
	case 't':
		*v = NewBool(true)
		return nil
	case 'f':
		*v = NewBool(false)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = NewString(s)
		return nil
	case '[', '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*v = NewString(buf.String())
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NewNumber(n)
		return nil
	}
}
