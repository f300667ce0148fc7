package cellgraph

import (
	"fmt"
	"math"
)

// Severity indicates the severity of a validation issue.
type Severity int

const (
	SeverityError   Severity = iota // recalculated value disagrees
	SeverityWarning                 // value could not be compared
)

// ValidationIssue represents a single disagreement found while checking
// recalculated values.
type ValidationIssue struct {
	Severity Severity
	Address  string
	Message  string
}

// String formats the issue as "[ERROR] Sheet1!A2: message" or "[WARN] ...".
func (v ValidationIssue) String() string {
	sev := "ERROR"
	if v.Severity == SeverityWarning {
		sev = "WARN"
	}
	return fmt.Sprintf("[%s] %s: %s", sev, v.Address, v.Message)
}

// CachedValues exposes the values a workbook's authoring application last
// computed for its formula cells.
type CachedValues interface {
	CachedValue(ref CellRef) (Value, bool)
}

// ValidateCalcs recalculates formula cells and compares each result against
// the cached value stored in the workbook. With no addresses given, every
// populated formula cell on every sheet is checked. A mismatch beyond
// tolerance is an error issue; a cell that cannot be compared is a warning.
func (s *Session) ValidateCalcs(cached CachedValues, addrs []string, tolerance float64) []ValidationIssue {
	if len(addrs) == 0 {
		addrs = s.allFormulaCells()
	}
	var issues []ValidationIssue
	for _, addr := range addrs {
		issues = appendCompared(issues, addr, func(key string) (want Value, ok bool, skip string) {
			ref, err := ParseCellRef(key)
			if err != nil {
				return nil, false, "not a cell address"
			}
			v, ok := cached.CachedValue(ref)
			if !ok {
				return nil, false, "workbook holds no cached value"
			}
			return v, true, ""
		}, s, tolerance)
	}
	return issues
}

// ValidateSnapshot rebuilds a session from the snapshot and re-resolves every
// formula record, comparing against the value recorded at save time. It
// confirms a serialized model still reproduces its own results.
func ValidateSnapshot(snap Snapshot, tolerance float64, opts ...Option) ([]ValidationIssue, error) {
	s, err := snap.Session(opts...)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]Value, len(snap.Nodes))
	var addrs []string
	for _, rec := range snap.Nodes {
		if rec.Formula == "" || !rec.Resolved {
			continue
		}
		recorded[rec.Address] = importValue(rec.Value)
		addrs = append(addrs, rec.Address)
	}
	var issues []ValidationIssue
	for _, addr := range addrs {
		issues = appendCompared(issues, addr, func(key string) (Value, bool, string) {
			return recorded[key], true, ""
		}, s, tolerance)
	}
	return issues, nil
}

// appendCompared resolves one address and appends an issue when the result
// disagrees with the expected value.
func appendCompared(issues []ValidationIssue, addr string, expected func(string) (Value, bool, string), s *Session, tolerance float64) []ValidationIssue {
	key, err := canonicalKey(addr)
	if err != nil {
		return append(issues, ValidationIssue{
			Severity: SeverityWarning, Address: addr,
			Message: fmt.Sprintf("unparseable address: %v", err),
		})
	}
	want, ok, skip := expected(key)
	if !ok {
		return append(issues, ValidationIssue{
			Severity: SeverityWarning, Address: key, Message: skip,
		})
	}
	got, err := s.Resolve(key)
	if err != nil {
		return append(issues, ValidationIssue{
			Severity: SeverityError, Address: key,
			Message: fmt.Sprintf("resolution failed: %v", err),
		})
	}
	if !valuesClose(got, want, tolerance) {
		return append(issues, ValidationIssue{
			Severity: SeverityError, Address: key,
			Message: fmt.Sprintf("recalculated %v, expected %v", exportValue(got), exportValue(want)),
		})
	}
	return issues
}

// valuesClose compares two values: numbers within tolerance, error values by
// code, everything else by exact equality.
func valuesClose(a, b Value, tolerance float64) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return math.Abs(an-bn) <= tolerance
		}
		return false
	}
	if ae, ok := a.(ErrorValue); ok {
		if be, ok := b.(ErrorValue); ok {
			return ae.Code == be.Code
		}
		return false
	}
	return a == b
}

// allFormulaCells lists every populated formula cell in the source, sheet by
// sheet.
func (s *Session) allFormulaCells() []string {
	if s.source == nil {
		return nil
	}
	var addrs []string
	for _, sheet := range s.source.SheetNames() {
		for _, ref := range s.source.PopulatedCells(sheet) {
			if cell, ok := s.source.Cell(ref); ok && cell.IsFormula() {
				addrs = append(addrs, ref.String())
			}
		}
	}
	return addrs
}
