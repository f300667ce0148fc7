package cellgraph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveNumber(t *testing.T, s *Session, addr string) float64 {
	t.Helper()
	v, err := s.Resolve(addr)
	require.NoError(t, err, addr)
	n, ok := toNumber(v)
	require.True(t, ok, "%s resolved to non-numeric %v", addr, v)
	return n
}

func TestResolveChain(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 100.0).
		SetFormula("Sheet1!B1", "=A1*2").
		SetFormula("Sheet1!C1", "=B1+50")
	s := NewSession(src)

	assert.Equal(t, 250.0, resolveNumber(t, s, "Sheet1!C1"))

	require.NoError(t, s.SetValue("Sheet1!A1", 150.0))
	assert.Equal(t, 350.0, resolveNumber(t, s, "Sheet1!C1"))
}

func TestResolveBuildsLazily(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetFormula("Sheet1!B1", "=A1+1").
		SetValue("Sheet1!D1", 99.0). // never referenced
		SetValue("Sheet1!E1", 98.0)
	s := NewSession(src)

	assert.Equal(t, 0, s.Len())
	resolveNumber(t, s, "Sheet1!B1")
	// only B1 and its precedent were materialized
	assert.Equal(t, 2, s.Len())
}

func TestResolveMemoizes(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	reg.Register("TRACK", func(args []Value) (Value, error) {
		calls++
		return args[0], nil
	})

	src := NewMapSource().
		SetValue("Sheet1!A1", 5.0).
		SetFormula("Sheet1!B1", "=TRACK(A1)")
	s := NewSession(src, WithRegistry(reg))

	resolveNumber(t, s, "Sheet1!B1")
	resolveNumber(t, s, "Sheet1!B1")
	resolveNumber(t, s, "Sheet1!B1")
	assert.Equal(t, 1, calls, "clean node must not recompute")

	require.NoError(t, s.SetValue("Sheet1!A1", 7.0))
	assert.Equal(t, 7.0, resolveNumber(t, s, "Sheet1!B1"))
	assert.Equal(t, 2, calls, "dirty node recomputes exactly once")
}

func TestSetValueInvalidatesOnlyDependents(t *testing.T) {
	calls := map[string]int{}
	reg := NewRegistry()
	reg.Register("TAG", func(args []Value) (Value, error) {
		calls[toText(args[1])]++
		return args[0], nil
	})

	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetValue("Sheet1!A2", 2.0).
		SetFormula("Sheet1!B1", `=TAG(A1+1,"b1")`).
		SetFormula("Sheet1!B2", `=TAG(A2+1,"b2")`)
	s := NewSession(src, WithRegistry(reg))

	resolveNumber(t, s, "Sheet1!B1")
	resolveNumber(t, s, "Sheet1!B2")

	require.NoError(t, s.SetValue("Sheet1!A1", 10.0))
	resolveNumber(t, s, "Sheet1!B1")
	resolveNumber(t, s, "Sheet1!B2")

	assert.Equal(t, 2, calls["b1"])
	assert.Equal(t, 1, calls["b2"], "unrelated formula must stay cached")
}

func TestSetValueOverwritesFormula(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetFormula("Sheet1!B1", "=A1*10").
		SetFormula("Sheet1!C1", "=B1+1")
	s := NewSession(src)

	assert.Equal(t, 11.0, resolveNumber(t, s, "Sheet1!C1"))

	// B1 becomes a boundary constant; its old precedent edge is gone
	require.NoError(t, s.SetValue("Sheet1!B1", 100.0))
	assert.Equal(t, 101.0, resolveNumber(t, s, "Sheet1!C1"))
	assert.Empty(t, s.Precedents("Sheet1!B1"))

	require.NoError(t, s.SetValue("Sheet1!A1", 50.0))
	assert.Equal(t, 101.0, resolveNumber(t, s, "Sheet1!C1"), "A1 no longer feeds C1")
}

func TestSetValueOnRangeRejected(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetValue("Sheet1!A2", 2.0).
		SetFormula("Sheet1!B1", "=SUM(A1:A2)")
	s := NewSession(src)
	resolveNumber(t, s, "Sheet1!B1")

	err := s.SetValue("Sheet1!A1:A2", 5.0)
	require.Error(t, err)
}

func TestRangeAggregation(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetValue("Sheet1!A2", 2.0).
		SetValue("Sheet1!A3", 3.0).
		SetFormula("Sheet1!B1", "=SUM(A1:A3)")
	s := NewSession(src)

	assert.Equal(t, 6.0, resolveNumber(t, s, "Sheet1!B1"))

	// changing one constituent cell reaches the aggregate through its edge
	require.NoError(t, s.SetValue("Sheet1!A2", 20.0))
	assert.Equal(t, 24.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestRangeValueShape(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetValue("Sheet1!B1", 2.0).
		SetValue("Sheet1!A2", 3.0).
		SetValue("Sheet1!B2", 4.0)
	s := NewSession(src)

	v, err := s.Resolve("Sheet1!A1:B2")
	require.NoError(t, err)
	assert.Equal(t, [][]Value{{1.0, 2.0}, {3.0, 4.0}}, v)
}

func TestEmptyCellsAreZeroInArithmetic(t *testing.T) {
	src := NewMapSource().
		SetFormula("Sheet1!B1", "=A1+1") // A1 never populated
	s := NewSession(src)
	assert.Equal(t, 1.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestCrossSheetReferences(t *testing.T) {
	src := NewMapSource().
		SetValue("Data!A1", 40.0).
		SetFormula("Report!A1", "=Data!A1+2")
	s := NewSession(src)
	assert.Equal(t, 42.0, resolveNumber(t, s, "Report!A1"))
}

func TestUnknownFunctionIsInBand(t *testing.T) {
	src := NewMapSource().
		SetFormula("Sheet1!A1", "=NOSUCHFN(1)").
		SetFormula("Sheet1!B1", "=2+2")
	s := NewSession(src)

	v, err := s.Resolve("Sheet1!A1")
	require.NoError(t, err, "unknown function must not fail the resolve")
	ev, ok := v.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorName, ev.Code)

	// siblings are unaffected
	assert.Equal(t, 4.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestMalformedFormulaSurfacesOnResolve(t *testing.T) {
	src := NewMapSource().
		SetFormula("Sheet1!A1", "=1+").
		SetFormula("Sheet1!B1", "=3*3")
	s := NewSession(src)

	v, err := s.Resolve("Sheet1!A1")
	require.Error(t, err)
	var synErr *FormulaSyntaxError
	assert.ErrorAs(t, err, &synErr)
	ev, ok := v.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorValuE, ev.Code)

	assert.Equal(t, 9.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestErrorValuesFlowThroughGraph(t *testing.T) {
	src := NewMapSource().
		SetFormula("Sheet1!A1", "=1/0").
		SetFormula("Sheet1!B1", "=A1+1").
		SetFormula("Sheet1!C1", "=IFERROR(B1,0)")
	s := NewSession(src)

	v, err := s.Resolve("Sheet1!B1")
	require.NoError(t, err)
	ev, ok := v.(ErrorValue)
	require.True(t, ok)
	assert.Equal(t, ErrorDiv0, ev.Code)

	assert.Equal(t, 0.0, resolveNumber(t, s, "Sheet1!C1"))
}

func TestDeepChainNoStackGrowth(t *testing.T) {
	const depth = 10000
	src := NewMapSource().SetValue("Sheet1!A1", 1.0)
	for i := 2; i <= depth; i++ {
		src.SetFormula(fmt.Sprintf("Sheet1!A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}
	s := NewSession(src)
	assert.Equal(t, float64(depth), resolveNumber(t, s, fmt.Sprintf("Sheet1!A%d", depth)))
}

func TestDefinedNameInFormula(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!B1", 10.0).
		SetValue("Sheet1!B2", 20.0).
		AddDefinedName("Rates", "Sheet1!B1:B2").
		SetFormula("Sheet1!C1", "=SUM(Rates)")
	s := NewSession(src)
	assert.Equal(t, 30.0, resolveNumber(t, s, "Sheet1!C1"))
}

func TestNamedFormulaInSession(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 100.0).
		AddNamedFormula("Doubled", "=A1*2").
		SetFormula("Sheet1!B1", "=Doubled+1")
	s := NewSession(src)
	assert.Equal(t, 201.0, resolveNumber(t, s, "Sheet1!B1"))

	// the expanded name's precedents invalidate like any others
	require.NoError(t, s.SetValue("Sheet1!A1", 10.0))
	assert.Equal(t, 21.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestMultiAreaRange(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetValue("Sheet1!A2", 2.0).
		SetValue("Sheet1!C1", 10.0).
		AddDefinedName("Split", "Sheet1!A1:A2,Sheet1!C1").
		SetFormula("Sheet1!D1", "=SUM(Split)")
	s := NewSession(src)
	assert.Equal(t, 13.0, resolveNumber(t, s, "Sheet1!D1"))
}

func TestNodesSurface(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetFormula("Sheet1!B1", "=A1*3")
	s := NewSession(src)
	resolveNumber(t, s, "Sheet1!B1")

	records := s.Nodes()
	require.Len(t, records, 2)
	assert.Equal(t, "Sheet1!A1", records[0].Address)
	assert.Equal(t, "constant", records[0].Kind)
	assert.Equal(t, "Sheet1!B1", records[1].Address)
	assert.Equal(t, "formula", records[1].Kind)
	assert.Equal(t, "A1*3", records[1].Formula)
	assert.Equal(t, []string{"Sheet1!A1"}, records[1].Precedents)
	assert.True(t, records[1].Resolved)

	assert.Equal(t, []string{"Sheet1!B1"}, s.Dependents("Sheet1!A1"))
}
