package cellgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedMap map[string]Value

func (m cachedMap) CachedValue(ref CellRef) (Value, bool) {
	v, ok := m[ref.String()]
	return v, ok
}

func TestValidateCalcsAllMatch(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 2.0).
		SetFormula("Sheet1!B1", "=A1*3").
		SetFormula("Sheet1!C1", "=B1+1")
	s := NewSession(src)

	cached := cachedMap{"Sheet1!B1": 6.0, "Sheet1!C1": 7.0}
	issues := s.ValidateCalcs(cached, nil, 0.0001)
	assert.Empty(t, issues)
}

func TestValidateCalcsMismatch(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 2.0).
		SetFormula("Sheet1!B1", "=A1*3")
	s := NewSession(src)

	issues := s.ValidateCalcs(cachedMap{"Sheet1!B1": 5.0}, nil, 0.0001)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, "Sheet1!B1", issues[0].Address)
	assert.Contains(t, issues[0].String(), "[ERROR]")
}

func TestValidateCalcsWithinTolerance(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetFormula("Sheet1!B1", "=A1/3")
	s := NewSession(src)

	issues := s.ValidateCalcs(cachedMap{"Sheet1!B1": 0.333333}, nil, 0.001)
	assert.Empty(t, issues)
}

func TestValidateCalcsMissingCachedValue(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 1.0).
		SetFormula("Sheet1!B1", "=A1+1")
	s := NewSession(src)

	issues := s.ValidateCalcs(cachedMap{}, []string{"Sheet1!B1"}, 0.0001)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestValidateCalcsErrorValuesCompareByCode(t *testing.T) {
	src := NewMapSource().SetFormula("Sheet1!B1", "=1/0")
	s := NewSession(src)

	issues := s.ValidateCalcs(cachedMap{"Sheet1!B1": NewErrorValue(ErrorDiv0, "")}, nil, 0.0001)
	assert.Empty(t, issues)

	issues = s.ValidateCalcs(cachedMap{"Sheet1!B1": NewErrorValue(ErrorNA, "")}, nil, 0.0001)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestValidateSnapshotReproduces(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 100.0).
		SetFormula("Sheet1!B1", "=A1*2").
		SetFormula("Sheet1!C1", "=B1+50")
	s := NewSession(src)
	resolveNumber(t, s, "Sheet1!C1")

	issues, err := ValidateSnapshot(s.Snapshot(), 0.0001)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestValidateSnapshotDetectsTampering(t *testing.T) {
	src := NewMapSource().
		SetValue("Sheet1!A1", 100.0).
		SetFormula("Sheet1!B1", "=A1*2")
	s := NewSession(src)
	resolveNumber(t, s, "Sheet1!B1")

	snap := s.Snapshot()
	for i, rec := range snap.Nodes {
		if rec.Address == "Sheet1!B1" {
			snap.Nodes[i].Value = 999.0
		}
	}
	issues, err := ValidateSnapshot(snap, 0.0001)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, "Sheet1!B1", issues[0].Address)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Severity: SeverityWarning, Address: "Sheet1!A1", Message: "no cached value"}
	assert.Equal(t, "[WARN] Sheet1!A1: no cached value", issue.String())
}
