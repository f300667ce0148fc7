package cellgraph

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a resolved cell value: float64, string, bool, ErrorValue, nil for
// an empty cell, or [][]Value for a resolved range aggregate.
type Value = any

// ErrorCode enumerates the spreadsheet error tokens.
type ErrorCode string

const (
	ErrorDiv0  ErrorCode = "#DIV/0!"
	ErrorValuE ErrorCode = "#VALUE!"
	ErrorRef   ErrorCode = "#REF!"
	ErrorName  ErrorCode = "#NAME?"
	ErrorNum   ErrorCode = "#NUM!"
	ErrorNA    ErrorCode = "#N/A"
	ErrorNull  ErrorCode = "#NULL!"
)

// ErrorValue is an in-band spreadsheet error. It flows through formulas as an
// ordinary value, matching spreadsheet error-propagation semantics, and is
// never a fatal failure of the resolve call.
type ErrorValue struct {
	Code   ErrorCode
	Detail string
}

// NewErrorValue creates an in-band error value.
func NewErrorValue(code ErrorCode, detail string) ErrorValue {
	return ErrorValue{Code: code, Detail: detail}
}

func (e ErrorValue) String() string { return string(e.Code) }

// ParseErrorValue recognizes an error token like "#DIV/0!".
func ParseErrorValue(s string) (ErrorValue, bool) {
	switch ErrorCode(strings.ToUpper(strings.TrimSpace(s))) {
	case ErrorDiv0, ErrorValuE, ErrorRef, ErrorName, ErrorNum, ErrorNA, ErrorNull:
		return ErrorValue{Code: ErrorCode(strings.ToUpper(strings.TrimSpace(s)))}, true
	}
	return ErrorValue{}, false
}

// errorIn scans values for the first in-band error, which propagates.
func errorIn(values ...Value) (ErrorValue, bool) {
	for _, v := range values {
		if ev, ok := v.(ErrorValue); ok {
			return ev, true
		}
	}
	return ErrorValue{}, false
}

// toNumber coerces a value to float64 following spreadsheet rules: numbers
// pass through, booleans map to 0/1, numeric strings parse, empty cells are 0.
func toNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		if n == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toBool coerces a value to bool: booleans pass through, numbers are true
// when nonzero, TRUE/FALSE strings parse.
func toBool(v Value) (bool, bool) {
	switch b := v.(type) {
	case nil:
		return false, true
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(b)) {
		case "TRUE":
			return true, true
		case "FALSE":
			return false, true
		}
	}
	return false, false
}

// toText renders a value the way it would appear in a cell.
func toText(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case ErrorValue:
		return t.String()
	}
	return fmt.Sprintf("%v", v)
}

// flatten expands range aggregate values ([][]Value) into a flat argument
// list; scalars pass through unchanged.
func flatten(values []Value) []Value {
	var out []Value
	for _, v := range values {
		if rows, ok := v.([][]Value); ok {
			for _, row := range rows {
				out = append(out, row...)
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// compareValues orders two scalar values for the comparison operators.
// Numbers compare numerically, text case-insensitively; mixed types follow
// the spreadsheet ordering number < text < boolean.
func compareValues(a, b Value) int {
	ra, rb := compareRank(a), compareRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0: // numbers
		na, _ := toNumber(a)
		nb, _ := toNumber(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case 1: // text
		return strings.Compare(strings.ToLower(toText(a)), strings.ToLower(toText(b)))
	default: // booleans: FALSE < TRUE
		ba, _ := toBool(a)
		bb, _ := toBool(b)
		switch {
		case !ba && bb:
			return -1
		case ba && !bb:
			return 1
		}
		return 0
	}
}

func compareRank(v Value) int {
	switch v.(type) {
	case bool:
		return 2
	case string:
		return 1
	default:
		return 0
	}
}
