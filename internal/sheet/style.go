package sheet

import (
	"strconv"
	"strings"
)

// CellStyle is the presentational flag set for one cell. The zero value
// means unstyled; applying it removes the cell's style entry.
type CellStyle struct {
	Bold       bool   `json:"bold,omitempty"`
	Italic     bool   `json:"italic,omitempty"`
	Underline  bool   `json:"underline,omitempty"`
	Background string `json:"background,omitempty"`
}

func (s CellStyle) IsZero() bool {
	return s == CellStyle{}
}

// ConditionalFormat styles every cell of a column whose value satisfies the
// rule. Rule text is "OP operand", e.g. "< 0" or "== done".
type ConditionalFormat struct {
	Column string    `json:"column"`
	Rule   string    `json:"rule"`
	Style  CellStyle `json:"style"`
}

type condOp int

const (
	condLT condOp = iota
	condLE
	condGT
	condGE
	condEQ
	condNE
)

// condRule is a parsed conditional-format rule. The operand's numeric
// reading is resolved once at parse time.
type condRule struct {
	op         condOp
	operand    string
	operandNum float64
	numeric    bool
}

// parseCondRule validates and compiles rule text. Ordering operators demand
// a numeric operand; equality operators take anything.
func parseCondRule(text string) (condRule, error) {
	trimmed := strings.TrimSpace(text)
	var op condOp
	var rest string
	switch {
	case strings.HasPrefix(trimmed, "<="):
		op, rest = condLE, trimmed[2:]
	case strings.HasPrefix(trimmed, ">="):
		op, rest = condGE, trimmed[2:]
	case strings.HasPrefix(trimmed, "=="):
		op, rest = condEQ, trimmed[2:]
	case strings.HasPrefix(trimmed, "!="):
		op, rest = condNE, trimmed[2:]
	case strings.HasPrefix(trimmed, "<"):
		op, rest = condLT, trimmed[1:]
	case strings.HasPrefix(trimmed, ">"):
		op, rest = condGT, trimmed[1:]
	default:
		return condRule{}, &ValidationError{Input: text, Reason: "rule must start with <, <=, >, >=, == or !="}
	}
	operand := strings.TrimSpace(rest)
	if operand == "" {
		return condRule{}, &ValidationError{Input: text, Reason: "rule is missing an operand"}
	}
	r := condRule{op: op, operand: operand}
	if f, err := strconv.ParseFloat(operand, 64); err == nil {
		r.operandNum = f
		r.numeric = true
	}
	if !r.numeric && op != condEQ && op != condNE {
		return condRule{}, &ValidationError{Input: text, Reason: "ordering rules need a numeric operand"}
	}
	return r, nil
}

// matches reports whether a cell value satisfies the rule. Values without a
// numeric reading only ever match the equality forms, compared
// case-insensitively on the display string.
func (r condRule) matches(v Value) bool {
	if f, ok := v.Float(); ok && r.numeric {
		switch r.op {
		case condLT:
			return f < r.operandNum
		case condLE:
			return f <= r.operandNum
		case condGT:
			return f > r.operandNum
		case condGE:
			return f >= r.operandNum
		case condEQ:
			return f == r.operandNum
		default:
			return f != r.operandNum
		}
	}
	switch r.op {
	case condEQ:
		return strings.EqualFold(v.Display(), r.operand)
	case condNE:
		return !strings.EqualFold(v.Display(), r.operand)
	default:
		return false
	}
}

// ValidateCondFormat checks a format before it enters the overlay.
func ValidateCondFormat(f ConditionalFormat) error {
	if strings.TrimSpace(f.Column) == "" {
		return &ValidationError{Input: f.Rule, Reason: "conditional format needs a column"}
	}
	if _, err := parseCondRule(f.Rule); err != nil {
		return err
	}
	return nil
}
