package sheet

import (
	"encoding/json"
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Formula grammar. Expressions are row-scoped: operands are column
// references (bare identifiers, or [bracketed] for names with spaces or
// punctuation), number and string literals, the four binary operators with
// the usual precedence, parens and unary minus.
var formulaLexer = lexer.MustSimple([]lexer.SimpleRule{
	{"whitespace", `\s+`},
	{"Number", `\d+(?:\.\d+)?(?:[eE][+-]?\d+)?`},
	{"String", `"(?:\\.|[^"\\])*"`},
	{"BracketRef", `\[[^\]]*\]`},
	{"Ident", `[a-zA-Z_][a-zA-Z0-9_]*`},
	{"Punct", `[-+*/()]`},
})

type formulaExpr struct {
	Left  *formulaTerm     `@@`
	Right []*formulaOpTerm `@@*`
}

type formulaOpTerm struct {
	Op   string       `@("+" | "-")`
	Term *formulaTerm `@@`
}

type formulaTerm struct {
	Left  *formulaFactor     `@@`
	Right []*formulaOpFactor `@@*`
}

type formulaOpFactor struct {
	Op     string         `@("*" | "/")`
	Factor *formulaFactor `@@`
}

type formulaFactor struct {
	Neg    *formulaFactor `  "-" @@`
	Number *string        `| @Number`
	Str    *string        `| @String`
	Ref    *string        `| @BracketRef`
	Ident  *string        `| @Ident`
	Sub    *formulaExpr   `| "(" @@ ")"`
}

var formulaParser = participle.MustBuild[formulaExpr](
	participle.Lexer(formulaLexer),
	participle.Unquote("String"),
)

// Formula is a parsed expression attached to one cell. Text is stored
// without the leading "=" the edit surface uses to introduce it.
type Formula struct {
	Text string
	root *formulaExpr
}

// ParseFormula compiles expression text. Failures come back as a
// FormulaError carrying the parser's message.
func ParseFormula(text string) (*Formula, error) {
	root, err := formulaParser.ParseString("", text)
	if err != nil {
		return nil, &FormulaError{Expr: text, Reason: err.Error()}
	}
	return &Formula{Text: text, root: root}, nil
}

// Eval computes the formula against one row's cells. References resolve to
// the row's stored literals, never to other computed cells, so chains and
// cycles cannot form. Errors are per-cell: the caller records them on the
// computed cache and the rest of the sheet stays live.
func (f *Formula) Eval(cells map[string]Value) (Value, error) {
	v, err := f.evalExpr(f.root, cells)
	if err != nil {
		return Null, err
	}
	return v, nil
}

func (f *Formula) evalExpr(e *formulaExpr, cells map[string]Value) (Value, error) {
	acc, err := f.evalTerm(e.Left, cells)
	if err != nil {
		return Null, err
	}
	for _, op := range e.Right {
		rhs, err := f.evalTerm(op.Term, cells)
		if err != nil {
			return Null, err
		}
		acc, err = f.applyOp(op.Op, acc, rhs)
		if err != nil {
			return Null, err
		}
	}
	return acc, nil
}

func (f *Formula) evalTerm(t *formulaTerm, cells map[string]Value) (Value, error) {
	acc, err := f.evalFactor(t.Left, cells)
	if err != nil {
		return Null, err
	}
	for _, op := range t.Right {
		rhs, err := f.evalFactor(op.Factor, cells)
		if err != nil {
			return Null, err
		}
		acc, err = f.applyOp(op.Op, acc, rhs)
		if err != nil {
			return Null, err
		}
	}
	return acc, nil
}

func (f *Formula) evalFactor(fa *formulaFactor, cells map[string]Value) (Value, error) {
	switch {
	case fa.Neg != nil:
		v, err := f.evalFactor(fa.Neg, cells)
		if err != nil {
			return Null, err
		}
		n, ok := v.Float()
		if !ok {
			return Null, f.errf("cannot negate %q", v.Display())
		}
		return numberFromFloat(-n), nil
	case fa.Number != nil:
		n, ok := parseNumber(*fa.Number)
		if !ok {
			return Null, f.errf("bad number literal %q", *fa.Number)
		}
		return NewNumber(n), nil
	case fa.Str != nil:
		return NewString(*fa.Str), nil
	case fa.Ref != nil:
		name := (*fa.Ref)[1 : len(*fa.Ref)-1]
		return f.resolve(name, cells)
	case fa.Ident != nil:
		return f.resolve(*fa.Ident, cells)
	default:
		return f.evalExpr(fa.Sub, cells)
	}
}

func (f *Formula) resolve(name string, cells map[string]Value) (Value, error) {
	v, ok := cells[name]
	if !ok {
		return Null, f.errf("unknown column %q", name)
	}
	return v, nil
}

// applyOp implements the operator table: + adds when both operands read as
// numbers and concatenates display text otherwise; - * / are numeric only;
// dividing by zero is an error, not infinity.
func (f *Formula) applyOp(op string, a, b Value) (Value, error) {
	af, aok := a.Float()
	bf, bok := b.Float()
	if op == "+" {
		if aok && bok {
			return numberFromFloat(af + bf), nil
		}
		return NewString(a.Display() + b.Display()), nil
	}
	if !aok || !bok {
		return Null, f.errf("operator %s needs numeric operands", op)
	}
	switch op {
	case "-":
		return numberFromFloat(af - bf), nil
	case "*":
		return numberFromFloat(af * bf), nil
	default:
		if bf == 0 {
			return Null, f.errf("division by zero")
		}
		return numberFromFloat(af / bf), nil
	}
}

func (f *Formula) errf(format string, args ...any) error {
	return &FormulaError{Expr: f.Text, Reason: fmt.Sprintf(format, args...)}
}

// numberFromFloat wraps a computed result using the display formatting
// rules, so computed cells, summaries and exports all show the same text.
func numberFromFloat(v float64) Value {
	return NewNumber(json.Number(FormatNumber(v)))
}
