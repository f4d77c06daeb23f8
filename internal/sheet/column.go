package sheet

import (
	"fmt"
	"strings"
)

// ColumnType is a declared cell type. The empty string means the column is
// untyped and accepts any value.
type ColumnType string

const (
	TypeAny    ColumnType = ""
	TypeString ColumnType = "string"
	TypeNumber ColumnType = "number"
	TypeBool   ColumnType = "bool"
	TypeNull   ColumnType = "null"
)

// ParseColumnType normalizes a declared type name. "boolean" is accepted as
// an alias since JSON vocabularies disagree on the short form.
func ParseColumnType(s string) (ColumnType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return TypeAny, true
	case "string", "text":
		return TypeString, true
	case "number":
		return TypeNumber, true
	case "bool", "boolean":
		return TypeBool, true
	case "null":
		return TypeNull, true
	default:
		return TypeAny, false
	}
}

// Rule constrains values beyond the declared type: a numeric range with
// optional bounds, or a closed enum of display strings. At most one of the
// two is populated.
type Rule struct {
	Min  *float64
	Max  *float64
	Enum []string
}

func (r Rule) IsZero() bool {
	return r.Min == nil && r.Max == nil && len(r.Enum) == 0
}

// Check applies the rule to an already-coerced value. Null always passes:
// clearing a cell is never blocked by validation.
func (r Rule) Check(column string, v Value) error {
	if r.IsZero() || v.IsNull() {
		return nil
	}
	if r.Min != nil || r.Max != nil {
		f, ok := v.Float()
		if !ok {
			return &ValidationError{Column: column, Input: v.Display(), Reason: "range rule requires a numeric value"}
		}
		if r.Min != nil && f < *r.Min {
			return &ValidationError{Column: column, Input: v.Display(), Reason: fmt.Sprintf("below minimum %s", FormatNumber(*r.Min))}
		}
		if r.Max != nil && f > *r.Max {
			return &ValidationError{Column: column, Input: v.Display(), Reason: fmt.Sprintf("above maximum %s", FormatNumber(*r.Max))}
		}
		return nil
	}
	display := v.Display()
	for _, allowed := range r.Enum {
		if display == allowed {
			return nil
		}
	}
	return &ValidationError{Column: column, Input: display, Reason: fmt.Sprintf("not one of %s", strings.Join(r.Enum, ", "))}
}

// ColumnSpec is the overlay's declaration for one column.
type ColumnSpec struct {
	Type ColumnType
	Rule Rule
}

func (s ColumnSpec) IsZero() bool {
	return s.Type == TypeAny && s.Rule.IsZero()
}

// Coerce converts a value into the column's declared type. Null passes
// through for every type so cells can always be cleared. A value that has
// no reading in the declared type is rejected with a ValidationError and
// the caller must leave the cell untouched.
func Coerce(column string, v Value, t ColumnType) (Value, error) {
	if t == TypeAny || v.IsNull() {
		return v, nil
	}
	switch t {
	case TypeNumber:
		switch v.Kind() {
		case KindNumber:
			return v, nil
		case KindString:
			if n, ok := parseNumber(strings.TrimSpace(v.Str())); ok {
				return NewNumber(n), nil
			}
		case KindBool:
			if v.Bool() {
				return NewInt(1), nil
			}
			return NewInt(0), nil
		}
		return Null, &ValidationError{Column: column, Input: v.Display(), Reason: "not a number"}
	case TypeBool:
		switch v.Kind() {
		case KindBool:
			return v, nil
		case KindNumber:
			f, _ := v.Float()
			return NewBool(f != 0), nil
		case KindString:
			switch strings.ToLower(strings.TrimSpace(v.Str())) {
			case "true", "1":
				return NewBool(true), nil
			case "false", "0":
				return NewBool(false), nil
			}
		}
		return Null, &ValidationError{Column: column, Input: v.Display(), Reason: "not a boolean"}
	case TypeString:
		if v.Kind() == KindString {
			return v, nil
		}
		return NewString(v.Display()), nil
	case TypeNull:
		return Null, &ValidationError{Column: column, Input: v.Display(), Reason: "column only accepts null"}
	default:
		return v, nil
	}
}

// CheckValue runs coercion then the rule, returning the committed value.
func (s ColumnSpec) CheckValue(column string, v Value) (Value, error) {
	coerced, err := Coerce(column, v, s.Type)
	if err != nil {
		return Null, err
	}
	if err := s.Rule.Check(column, coerced); err != nil {
		return Null, err
	}
	return coerced, nil
}
