package cellgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoke(t *testing.T, name string, args ...Value) Value {
	t.Helper()
	v, err := NewRegistry().Invoke(name, args)
	require.NoError(t, err, name)
	return v
}

func TestAggregateFunctions(t *testing.T) {
	grid := [][]Value{{1.0, 2.0}, {3.0, nil}}

	assert.Equal(t, 6.0, invoke(t, "SUM", grid))
	assert.Equal(t, 2.0, invoke(t, "AVERAGE", grid))
	assert.Equal(t, 1.0, invoke(t, "MIN", grid))
	assert.Equal(t, 3.0, invoke(t, "MAX", grid))
	assert.Equal(t, 3.0, invoke(t, "COUNT", grid))
	assert.Equal(t, 3.0, invoke(t, "COUNTA", grid))

	// text cells are skipped by numeric aggregates, counted by COUNTA
	mixed := [][]Value{{1.0, "label"}, {2.0, nil}}
	assert.Equal(t, 3.0, invoke(t, "SUM", mixed))
	assert.Equal(t, 2.0, invoke(t, "COUNT", mixed))
	assert.Equal(t, 3.0, invoke(t, "COUNTA", mixed))
}

func TestAggregatePropagatesErrors(t *testing.T) {
	grid := [][]Value{{1.0, NewErrorValue(ErrorDiv0, "")}}
	got := invoke(t, "SUM", grid)
	ev, ok := got.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorDiv0, ev.Code)
}

func TestAverageOfNothing(t *testing.T) {
	got := invoke(t, "AVERAGE", [][]Value{{nil, "x"}})
	ev, ok := got.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorDiv0, ev.Code)
}

func TestLogicalFunctions(t *testing.T) {
	assert.Equal(t, 10.0, invoke(t, "IF", true, 10.0, 20.0))
	assert.Equal(t, 20.0, invoke(t, "IF", false, 10.0, 20.0))
	assert.Equal(t, false, invoke(t, "IF", false, 10.0))
	assert.Equal(t, true, invoke(t, "AND", true, 1.0))
	assert.Equal(t, false, invoke(t, "AND", true, false))
	assert.Equal(t, true, invoke(t, "OR", false, true))
	assert.Equal(t, false, invoke(t, "NOT", true))
}

func TestMathFunctions(t *testing.T) {
	assert.Equal(t, 3.0, invoke(t, "ABS", -3.0))
	assert.Equal(t, 4.0, invoke(t, "SQRT", 16.0))
	assert.Equal(t, 3.0, invoke(t, "INT", 3.7))
	assert.Equal(t, -4.0, invoke(t, "INT", -3.7))
	assert.Equal(t, 3.14, invoke(t, "ROUND", 3.14159, 2.0))
	assert.Equal(t, 8.0, invoke(t, "POWER", 2.0, 3.0))
	// Excel MOD takes the divisor's sign
	assert.Equal(t, 1.0, invoke(t, "MOD", 3.0, 2.0))
	assert.Equal(t, 1.0, invoke(t, "MOD", -3.0, 2.0))
	assert.Equal(t, -1.0, invoke(t, "MOD", 3.0, -2.0))
}

func TestMathDomainErrors(t *testing.T) {
	got := invoke(t, "SQRT", -1.0)
	ev, ok := got.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorNum, ev.Code)

	got = invoke(t, "MOD", 1.0, 0.0)
	ev, ok = got.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorDiv0, ev.Code)
}

func TestTextFunctions(t *testing.T) {
	assert.Equal(t, "abc", invoke(t, "LOWER", "ABC"))
	assert.Equal(t, "ABC", invoke(t, "UPPER", "abc"))
	assert.Equal(t, "x", invoke(t, "TRIM", "  x  "))
	assert.Equal(t, 3.0, invoke(t, "LEN", "abc"))
	assert.Equal(t, "a1TRUE", invoke(t, "CONCATENATE", "a", 1.0, true))
}

func TestErrorInspection(t *testing.T) {
	assert.Equal(t, true, invoke(t, "ISERROR", NewErrorValue(ErrorNA, "")))
	assert.Equal(t, false, invoke(t, "ISERROR", 1.0))
	assert.Equal(t, 0.0, invoke(t, "IFERROR", NewErrorValue(ErrorDiv0, ""), 0.0))
	assert.Equal(t, 5.0, invoke(t, "IFERROR", 5.0, 0.0))
}

func TestInvokeUnknownFunction(t *testing.T) {
	_, err := NewRegistry().Invoke("NOSUCHFN", nil)
	require.Error(t, err)
	var notImpl *FunctionNotImplementedError
	require.ErrorAs(t, err, &notImpl)
	assert.Equal(t, "NOSUCHFN", notImpl.Name)
}

func TestRegisterIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(args []Value) (Value, error) {
		n, _ := toNumber(args[0])
		return n * 2, nil
	})
	assert.Equal(t, 4.0, mustInvoke(t, r, "DOUBLE", 2.0))
	assert.Equal(t, 4.0, mustInvoke(t, r, "Double", 2.0))
}

func mustInvoke(t *testing.T, r *Registry, name string, args ...Value) Value {
	t.Helper()
	v, err := r.Invoke(name, args)
	require.NoError(t, err)
	return v
}

func TestRegisterExpr(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterExpr("TRIPLE", "args[0] * 3"))
	assert.Equal(t, 6.0, mustInvoke(t, r, "TRIPLE", 2.0))

	// range args arrive flattened
	require.NoError(t, r.RegisterExpr("FIRST", "args[0]"))
	assert.Equal(t, 1.0, mustInvoke(t, r, "FIRST", [][]Value{{1.0, 2.0}}))

	// in-band errors short-circuit before the expression runs
	got := mustInvoke(t, r, "TRIPLE", NewErrorValue(ErrorNA, ""))
	ev, ok := got.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorNA, ev.Code)

	require.Error(t, r.RegisterExpr("BAD", "args["))
}

func TestRegisterExprInSession(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterExpr("MARKUP", "args[0] * 1.2"))

	src := NewMapSource().
		SetValue("Sheet1!A1", 100.0).
		SetFormula("Sheet1!B1", "=MARKUP(A1)")
	s := NewSession(src, WithRegistry(reg))
	assert.Equal(t, 120.0, resolveNumber(t, s, "Sheet1!B1"))
}
