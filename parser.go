package cellgraph

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NameResolver resolves defined names and table names at parse time.
// Unknown names surface as #NAME? when the formula is evaluated.
type NameResolver interface {
	DefinedName(name string) (MultiRange, bool)
	// NamedFormula returns the formula body a name aliases, for names that
	// stand for an expression rather than a range.
	NamedFormula(name string) (string, bool)
	Table(name string) (RangeRef, bool)
}

// valueEnv is what a compiled expression needs at evaluation time: cached
// precedent values (the evaluator resolves precedents first) and the
// function registry.
type valueEnv interface {
	precedentValue(key string) Value
	invoke(name string, args []Value) (Value, error)
}

// expression is a compiled formula node.
type expression interface {
	eval(env valueEnv) Value
	String() string
}

// compiledFormula pairs an expression tree with the exact set of node keys it
// references, in first-appearance order.
type compiledFormula struct {
	root       expression
	precedents []string
}

// parseFormula compiles formula text in the context of the cell holding it.
// Unqualified references inherit the holding cell's sheet. The same text
// parsed twice from the same address yields identical precedent sets.
func parseFormula(formula string, at CellRef, names NameResolver) (*compiledFormula, error) {
	tokens, err := newLexer(formula).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{
		formula:   formula,
		tokens:    tokens,
		at:        at,
		names:     names,
		seen:      make(map[string]bool),
		expanding: make(map[string]bool),
	}
	root, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, p.errorf(p.peek(), "unexpected trailing input")
	}
	return &compiledFormula{root: root, precedents: p.precedents}, nil
}

type parser struct {
	formula    string
	tokens     []token
	pos        int
	at         CellRef
	names      NameResolver
	precedents []string
	seen       map[string]bool
	expanding  map[string]bool // named formulas on the current expansion path
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, reason string) error {
	return &FormulaSyntaxError{Formula: p.formula, Token: tok.text, Pos: tok.pos, Reason: reason}
}

func (p *parser) record(key string) {
	if !p.seen[key] {
		p.seen[key] = true
		p.precedents = append(p.precedents, key)
	}
}

// binaryPrec maps operators to precedence levels; higher binds tighter.
// Associativity is left-to-right throughout.
func binaryPrec(op string) int {
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
		return 1
	case "&":
		return 2
	case "+", "-":
		return 3
	case "*", "/":
		return 4
	case "^":
		return 5
	}
	return 0
}

// parseExpr is a precedence climber over binary operators.
func (p *parser) parseExpr(minPrec int) (expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokenOp {
			return left, nil
		}
		prec := binaryPrec(tok.text)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: tok.text, left: left, right: right}
	}
}

// parseUnary handles prefix +/- which bind tighter than every binary
// operator, including ^ (so -2^2 is 4).
func (p *parser) parseUnary() (expression, error) {
	tok := p.peek()
	if tok.kind == tokenOp && (tok.text == "-" || tok.text == "+") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "+" {
			return operand, nil
		}
		return &unaryExpr{op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix wraps a primary in percent suffixes: 50%% is 0.005.
func (p *parser) parsePostfix() (expression, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOp && p.peek().text == "%" {
		p.advance()
		e = &unaryExpr{op: "%", operand: e}
	}
	return e, nil
}

func (p *parser) parsePrimary() (expression, error) {
	tok := p.advance()
	switch tok.kind {
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number")
		}
		return &litExpr{val: f}, nil

	case tokenString:
		return &litExpr{val: tok.text}, nil

	case tokenBool:
		return &litExpr{val: tok.text == "TRUE"}, nil

	case tokenError:
		ev, _ := ParseErrorValue(tok.text)
		return &litExpr{val: ev}, nil

	case tokenCell:
		ref, err := ParseCellRef(tok.text)
		if err != nil {
			return nil, p.errorf(tok, err.Error())
		}
		key := ref.WithSheet(p.at.Sheet).String()
		p.record(key)
		return &refExpr{key: key}, nil

	case tokenRange:
		r, err := ParseRangeRef(tok.text)
		if err != nil {
			return nil, p.errorf(tok, err.Error())
		}
		return p.rangeOrCell(r.WithSheet(p.at.Sheet)), nil

	case tokenName:
		return p.resolveName(tok)

	case tokenFunc:
		return p.parseCall(tok)

	case tokenLParen:
		e, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokenRParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return e, nil
	}
	return nil, p.errorf(tok, "unexpected token")
}

// rangeOrCell collapses a 1x1 range to its single cell; they are
// address-equivalent.
func (p *parser) rangeOrCell(r RangeRef) expression {
	if r.IsCell() {
		key := r.Start.String()
		p.record(key)
		return &refExpr{key: key}
	}
	key := r.String()
	p.record(key)
	return &rangeExpr{key: key}
}

// resolveName resolves a defined name or table name to its range union at
// parse time; a name aliasing a formula body is expanded in place. Names the
// source does not know stay unresolved and evaluate to #NAME?.
func (p *parser) resolveName(tok token) (expression, error) {
	if p.names != nil {
		if areas, ok := p.names.DefinedName(tok.text); ok {
			if len(areas) == 1 {
				return p.rangeOrCell(areas[0]), nil
			}
			key := areas.String()
			p.record(key)
			return &rangeExpr{key: key}, nil
		}
		if body, ok := p.names.NamedFormula(tok.text); ok {
			return p.expandNamedFormula(tok, body)
		}
		if r, ok := p.names.Table(tok.text); ok {
			return p.rangeOrCell(r), nil
		}
	}
	return &litExpr{val: NewErrorValue(ErrorName, fmt.Sprintf("unknown name %q", tok.text))}, nil
}

// expandNamedFormula splices a name's formula body into the expression tree,
// its precedents merging into the referencing formula's set. The expansion
// path guards against names that refer back to themselves.
func (p *parser) expandNamedFormula(tok token, body string) (expression, error) {
	upper := strings.ToUpper(tok.text)
	if p.expanding[upper] {
		return nil, p.errorf(tok, "named formula refers to itself")
	}
	tokens, err := newLexer(body).tokenize()
	if err != nil {
		return nil, p.errorf(tok, fmt.Sprintf("in named formula %s: %v", tok.text, err))
	}
	sub := &parser{
		formula:    body,
		tokens:     tokens,
		at:         p.at,
		names:      p.names,
		precedents: p.precedents,
		seen:       p.seen,
		expanding:  p.expanding,
	}
	sub.expanding[upper] = true
	root, err := sub.parseExpr(1)
	if err == nil && sub.peek().kind != tokenEOF {
		err = sub.errorf(sub.peek(), "unexpected trailing input")
	}
	delete(sub.expanding, upper)
	p.precedents = sub.precedents
	if err != nil {
		return nil, p.errorf(tok, fmt.Sprintf("in named formula %s: %v", tok.text, err))
	}
	return root, nil
}

// parseCall parses a function call. The name is resolved against the
// function registry at evaluation time, not here, so unknown functions fail
// when the cell is resolved rather than at compile.
func (p *parser) parseCall(name token) (expression, error) {
	if open := p.advance(); open.kind != tokenLParen {
		return nil, p.errorf(open, "expected '(' after function name")
	}
	call := &callExpr{name: name.text}
	if p.peek().kind == tokenRParen {
		p.advance()
		return call, nil
	}
	for {
		arg, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		next := p.advance()
		switch next.kind {
		case tokenComma:
			continue
		case tokenRParen:
			return call, nil
		default:
			return nil, p.errorf(next, "expected ',' or ')' in argument list")
		}
	}
}

// --- expression nodes ---

type litExpr struct{ val Value }

func (e *litExpr) eval(valueEnv) Value { return e.val }

func (e *litExpr) String() string {
	if s, ok := e.val.(string); ok {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return toText(e.val)
}

// refExpr reads a single precedent cell's cached value. The evaluator
// guarantees the precedent is resolved (or cycle-seeded) before this runs.
type refExpr struct{ key string }

func (e *refExpr) eval(env valueEnv) Value { return env.precedentValue(e.key) }
func (e *refExpr) String() string          { return e.key }

// rangeExpr reads a range aggregate's cached value: the row-major [][]Value
// of its constituent cells. Expansion into cells happens in the aggregate
// node, never at parse time.
type rangeExpr struct{ key string }

func (e *rangeExpr) eval(env valueEnv) Value { return env.precedentValue(e.key) }
func (e *rangeExpr) String() string          { return e.key }

type unaryExpr struct {
	op      string // "-" or "%"
	operand expression
}

func (e *unaryExpr) eval(env valueEnv) Value {
	v := e.operand.eval(env)
	if ev, ok := errorIn(v); ok {
		return ev
	}
	n, ok := toNumber(v)
	if !ok {
		return NewErrorValue(ErrorValuE, fmt.Sprintf("%s applied to non-numeric %v", e.op, v))
	}
	if e.op == "%" {
		return n / 100
	}
	return -n
}

func (e *unaryExpr) String() string {
	if e.op == "%" {
		return e.operand.String() + "%"
	}
	return "-" + e.operand.String()
}

type binaryExpr struct {
	op          string
	left, right expression
}

func (e *binaryExpr) eval(env valueEnv) Value {
	lv := e.left.eval(env)
	rv := e.right.eval(env)
	if ev, ok := errorIn(lv, rv); ok {
		return ev
	}
	if isRangeValue(lv) || isRangeValue(rv) {
		return NewErrorValue(ErrorValuE, "range used as a scalar operand")
	}

	switch e.op {
	case "&":
		return toText(lv) + toText(rv)
	case "=":
		return compareValues(lv, rv) == 0
	case "<>":
		return compareValues(lv, rv) != 0
	case "<":
		return compareValues(lv, rv) < 0
	case "<=":
		return compareValues(lv, rv) <= 0
	case ">":
		return compareValues(lv, rv) > 0
	case ">=":
		return compareValues(lv, rv) >= 0
	}

	ln, lok := toNumber(lv)
	rn, rok := toNumber(rv)
	if !lok || !rok {
		return NewErrorValue(ErrorValuE, fmt.Sprintf("%s requires numeric operands", e.op))
	}
	switch e.op {
	case "+":
		return ln + rn
	case "-":
		return ln - rn
	case "*":
		return ln * rn
	case "/":
		if rn == 0 {
			return NewErrorValue(ErrorDiv0, "division by zero")
		}
		return ln / rn
	case "^":
		res := math.Pow(ln, rn)
		if math.IsNaN(res) || math.IsInf(res, 0) {
			return NewErrorValue(ErrorNum, fmt.Sprintf("%g^%g is not a number", ln, rn))
		}
		return res
	}
	return NewErrorValue(ErrorValuE, "unknown operator "+e.op)
}

func (e *binaryExpr) String() string {
	return "(" + e.left.String() + e.op + e.right.String() + ")"
}

type callExpr struct {
	name string
	args []expression
}

// eval invokes the function registry. Unknown functions become #NAME?; other
// invocation failures become #VALUE!. Both are in-band, never a resolve failure.
func (e *callExpr) eval(env valueEnv) Value {
	args := make([]Value, len(e.args))
	for i, a := range e.args {
		args[i] = a.eval(env)
	}
	result, err := env.invoke(e.name, args)
	if err != nil {
		var notImpl *FunctionNotImplementedError
		if errors.As(err, &notImpl) {
			return NewErrorValue(ErrorName, err.Error())
		}
		return NewErrorValue(ErrorValuE, err.Error())
	}
	return result
}

func (e *callExpr) String() string {
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		parts[i] = a.String()
	}
	return e.name + "(" + strings.Join(parts, ",") + ")"
}

func isRangeValue(v Value) bool {
	_, ok := v.([][]Value)
	return ok
}
