package cellgraph

import (
	"fmt"
	"strings"
)

// AddressError reports malformed address or range text.
type AddressError struct {
	Text   string
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Text, e.Reason)
}

func addressErrorf(text, format string, args ...any) *AddressError {
	return &AddressError{Text: text, Reason: fmt.Sprintf(format, args...)}
}

// CellRef identifies a single cell. Rows and columns are 1-based.
type CellRef struct {
	Sheet string // sheet name (empty = unqualified)
	Row   int
	Col   int
}

// NewCellRef creates a CellRef with explicit sheet, row, col.
func NewCellRef(sheet string, row, col int) CellRef {
	return CellRef{Sheet: sheet, Row: row, Col: col}
}

// ParseCellRef parses a cell reference string like "A1", "Sheet1!B5", or "$A$1".
func ParseCellRef(s string) (CellRef, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return CellRef{}, addressErrorf(orig, "empty cell reference")
	}

	var sheet string
	cellPart := s

	if idx := strings.LastIndex(s, "!"); idx >= 0 {
		sheet = strings.Trim(s[:idx], "'")
		cellPart = s[idx+1:]
		if sheet == "" {
			return CellRef{}, addressErrorf(orig, "empty sheet name")
		}
	}

	cellPart = strings.ReplaceAll(cellPart, "$", "")
	col, row, err := parseCellName(cellPart)
	if err != nil {
		return CellRef{}, addressErrorf(orig, "%v", err)
	}

	return CellRef{Sheet: sheet, Row: row, Col: col}, nil
}

// parseCellName parses "A1" into col=1, row=1.
func parseCellName(name string) (col, row int, err error) {
	if len(name) == 0 {
		return 0, 0, fmt.Errorf("empty cell name")
	}

	i := 0
	for i < len(name) && isRefAlpha(name[i]) {
		i++
	}
	if i == 0 || i == len(name) {
		return 0, 0, fmt.Errorf("not of the form <letters><digits>: %q", name)
	}

	col, err = NameToCol(name[:i])
	if err != nil {
		return 0, 0, err
	}

	rowNum := 0
	for _, ch := range name[i:] {
		if ch < '0' || ch > '9' {
			return 0, 0, fmt.Errorf("invalid row in cell name: %q", name)
		}
		rowNum = rowNum*10 + int(ch-'0')
	}
	if rowNum < 1 {
		return 0, 0, fmt.Errorf("row must be >= 1 in cell name: %q", name)
	}

	return col, rowNum, nil
}

func isRefAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// String formats the CellRef as "Sheet1!A1" or "A1" if no sheet. This is the
// canonical form used as the node key in the graph store.
func (c CellRef) String() string {
	name := c.CellName()
	if c.Sheet != "" {
		return quoteSheet(c.Sheet) + "!" + name
	}
	return name
}

// CellName returns just the cell part like "A1" without sheet name.
func (c CellRef) CellName() string {
	return ColToName(c.Col) + fmt.Sprintf("%d", c.Row)
}

// WithSheet returns a copy of the ref qualified with the given sheet,
// unless it already carries one.
func (c CellRef) WithSheet(sheet string) CellRef {
	if c.Sheet == "" {
		c.Sheet = sheet
	}
	return c
}

// quoteSheet wraps sheet names containing spaces in single quotes.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " -") {
		return "'" + name + "'"
	}
	return name
}

// ColToName converts a 1-based column index to a column name.
// 1→"A", 26→"Z", 27→"AA"
func ColToName(col int) string {
	result := ""
	for col > 0 {
		col-- // adjust for 0-indexed letter
		result = string(rune('A'+col%26)) + result
		col /= 26
	}
	return result
}

// NameToCol converts a column name to a 1-based column index.
// "A"→1, "Z"→26, "AA"→27
func NameToCol(name string) (int, error) {
	name = strings.ToUpper(name)
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	col := 0
	for _, ch := range name {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column name: %q", name)
		}
		col = col*26 + int(ch-'A') + 1
	}
	return col, nil
}

// RangeRef is a rectangular span on one sheet. Start is component-wise less
// than or equal to End; constructors normalize the corners.
type RangeRef struct {
	Start CellRef
	End   CellRef
}

// NewRangeRef creates a normalized RangeRef from two corner cells. The sheet
// is taken from start when end is unqualified.
func NewRangeRef(start, end CellRef) RangeRef {
	if end.Sheet == "" {
		end.Sheet = start.Sheet
	}
	if start.Row > end.Row {
		start.Row, end.Row = end.Row, start.Row
	}
	if start.Col > end.Col {
		start.Col, end.Col = end.Col, start.Col
	}
	return RangeRef{Start: start, End: end}
}

// ParseRangeRef parses a range reference string like "A1:C5" or "Sheet1!A1:C5".
func ParseRangeRef(s string) (RangeRef, error) {
	orig := s
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return RangeRef{}, addressErrorf(orig, "missing ':'")
	}

	start, err := ParseCellRef(parts[0])
	if err != nil {
		return RangeRef{}, addressErrorf(orig, "%v", err)
	}
	end, err := ParseCellRef(parts[1])
	if err != nil {
		return RangeRef{}, addressErrorf(orig, "%v", err)
	}
	if end.Sheet != "" && start.Sheet != "" && end.Sheet != start.Sheet {
		return RangeRef{}, addressErrorf(orig, "range spans sheets %q and %q", start.Sheet, end.Sheet)
	}

	return NewRangeRef(start, end), nil
}

// String formats the RangeRef as "Sheet1!A1:C5" or "A1:C5".
func (r RangeRef) String() string {
	if r.Start.Sheet != "" {
		return quoteSheet(r.Start.Sheet) + "!" + r.Start.CellName() + ":" + r.End.CellName()
	}
	return r.Start.CellName() + ":" + r.End.CellName()
}

// IsCell reports whether the range covers exactly one cell. A 1x1 range is
// address-equivalent to its single cell.
func (r RangeRef) IsCell() bool {
	return r.Start.Row == r.End.Row && r.Start.Col == r.End.Col
}

// Rows returns the number of rows in the range.
func (r RangeRef) Rows() int { return r.End.Row - r.Start.Row + 1 }

// Cols returns the number of columns in the range.
func (r RangeRef) Cols() int { return r.End.Col - r.Start.Col + 1 }

// Contains reports whether the given cell is within this range.
func (r RangeRef) Contains(ref CellRef) bool {
	if r.Start.Sheet != "" && r.Start.Sheet != ref.Sheet {
		return false
	}
	return ref.Row >= r.Start.Row && ref.Row <= r.End.Row &&
		ref.Col >= r.Start.Col && ref.Col <= r.End.Col
}

// Cells returns the constituent cells in row-major order. The ordering is
// deterministic; range aggregates rely on it.
func (r RangeRef) Cells() []CellRef {
	cells := make([]CellRef, 0, r.Rows()*r.Cols())
	for row := r.Start.Row; row <= r.End.Row; row++ {
		for col := r.Start.Col; col <= r.End.Col; col++ {
			cells = append(cells, CellRef{Sheet: r.Start.Sheet, Row: row, Col: col})
		}
	}
	return cells
}

// WithSheet returns a copy of the range qualified with the given sheet,
// unless it already carries one.
func (r RangeRef) WithSheet(sheet string) RangeRef {
	r.Start = r.Start.WithSheet(sheet)
	r.End = r.End.WithSheet(sheet)
	return r
}

// MultiRange is an ordered union of rectangular spans, built from
// discontinuous selections or multi-area defined names.
type MultiRange []RangeRef

// ParseMultiRange parses a comma-separated union of ranges and cells, e.g.
// "Sheet1!A1:B2,Sheet1!D4". Single cells become 1x1 ranges.
func ParseMultiRange(s string) (MultiRange, error) {
	orig := s
	var areas MultiRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, addressErrorf(orig, "empty area in union")
		}
		if strings.Contains(part, ":") {
			r, err := ParseRangeRef(part)
			if err != nil {
				return nil, err
			}
			areas = append(areas, r)
			continue
		}
		c, err := ParseCellRef(part)
		if err != nil {
			return nil, err
		}
		areas = append(areas, NewRangeRef(c, c))
	}
	if len(areas) == 0 {
		return nil, addressErrorf(orig, "empty range union")
	}
	return areas, nil
}

// String joins the areas with commas.
func (m MultiRange) String() string {
	parts := make([]string, len(m))
	for i, r := range m {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// Cells returns the constituent cells of all areas, area by area, each in
// row-major order.
func (m MultiRange) Cells() []CellRef {
	var cells []CellRef
	for _, r := range m {
		cells = append(cells, r.Cells()...)
	}
	return cells
}

// DefinedName maps a workbook-scoped name to the range union it refers to,
// or to a literal formula body expanded wherever the name appears.
type DefinedName struct {
	Name     string
	RefersTo MultiRange // empty when the name aliases a formula
	Formula  string     // formula body, names that alias formulas
}
