package cellgraph

import (
	"sort"
	"strings"
)

// SourceCell is the raw content of one cell as the spreadsheet-reading
// collaborator sees it: a literal value, or formula text (without the
// leading "=").
type SourceCell struct {
	Value   Value
	Formula string
}

// IsFormula reports whether the cell carries a formula rather than a literal.
func (c SourceCell) IsFormula() bool { return c.Formula != "" }

// Source is the spreadsheet-reading collaborator. The engine pulls cell
// content, defined names, and table ranges from it on demand; it never
// enumerates the whole workbook up front.
type Source interface {
	// Cell returns the raw content at ref, or false if the cell is empty.
	Cell(ref CellRef) (SourceCell, bool)
	// DefinedName resolves a workbook name to its range union.
	DefinedName(name string) (MultiRange, bool)
	// NamedFormula resolves a workbook name that aliases a formula body.
	NamedFormula(name string) (string, bool)
	// Table resolves a table (structured-reference) name to its data range.
	Table(name string) (RangeRef, bool)
	// DefinedNames lists every workbook name, sorted.
	DefinedNames() []DefinedName
	// Tables lists every table, sorted by name.
	Tables() []NamedTable
	// SheetNames lists all sheets.
	SheetNames() []string
	// PopulatedCells lists all non-empty cells on a sheet.
	PopulatedCells(sheet string) []CellRef
}

// NamedTable pairs a table name with its data range.
type NamedTable struct {
	Name string
	Data RangeRef
}

// MapSource is an in-memory Source, useful for tests and for building models
// programmatically.
type MapSource struct {
	cells        map[string]SourceCell
	names        map[string]MultiRange
	nameFormulas map[string]string
	tables       map[string]RangeRef
	sheets       map[string]struct{}
}

// NewMapSource creates an empty in-memory source.
func NewMapSource() *MapSource {
	return &MapSource{
		cells:        make(map[string]SourceCell),
		names:        make(map[string]MultiRange),
		nameFormulas: make(map[string]string),
		tables:       make(map[string]RangeRef),
		sheets:       make(map[string]struct{}),
	}
}

// SetValue stores a literal at an address like "Sheet1!A1".
func (m *MapSource) SetValue(addr string, v Value) *MapSource {
	ref, err := ParseCellRef(addr)
	if err != nil {
		panic(err) // builder misuse
	}
	m.cells[ref.String()] = SourceCell{Value: v}
	m.sheets[ref.Sheet] = struct{}{}
	return m
}

// SetFormula stores formula text at an address. A leading "=" is optional.
func (m *MapSource) SetFormula(addr, formula string) *MapSource {
	ref, err := ParseCellRef(addr)
	if err != nil {
		panic(err) // builder misuse
	}
	if len(formula) > 0 && formula[0] == '=' {
		formula = formula[1:]
	}
	m.cells[ref.String()] = SourceCell{Formula: formula}
	m.sheets[ref.Sheet] = struct{}{}
	return m
}

// AddDefinedName registers a name for a range union like "Sheet1!A1:B2,Sheet1!D4".
// Names are case-insensitive, as in spreadsheets.
func (m *MapSource) AddDefinedName(name, refersTo string) *MapSource {
	areas, err := ParseMultiRange(refersTo)
	if err != nil {
		panic(err) // builder misuse
	}
	m.names[strings.ToUpper(name)] = areas
	return m
}

// AddNamedFormula registers a name that aliases a formula body, expanded
// wherever the name appears. A leading "=" is optional.
func (m *MapSource) AddNamedFormula(name, formula string) *MapSource {
	if len(formula) > 0 && formula[0] == '=' {
		formula = formula[1:]
	}
	m.nameFormulas[strings.ToUpper(name)] = formula
	return m
}

// AddTable registers a table name for a data range. Names are
// case-insensitive.
func (m *MapSource) AddTable(name, dataRange string) *MapSource {
	r, err := ParseRangeRef(dataRange)
	if err != nil {
		panic(err) // builder misuse
	}
	m.tables[strings.ToUpper(name)] = r
	return m
}

func (m *MapSource) Cell(ref CellRef) (SourceCell, bool) {
	c, ok := m.cells[ref.String()]
	return c, ok
}

func (m *MapSource) DefinedName(name string) (MultiRange, bool) {
	areas, ok := m.names[strings.ToUpper(name)]
	return areas, ok
}

func (m *MapSource) NamedFormula(name string) (string, bool) {
	body, ok := m.nameFormulas[strings.ToUpper(name)]
	return body, ok
}

func (m *MapSource) Table(name string) (RangeRef, bool) {
	r, ok := m.tables[strings.ToUpper(name)]
	return r, ok
}

func (m *MapSource) DefinedNames() []DefinedName {
	out := make([]DefinedName, 0, len(m.names)+len(m.nameFormulas))
	for name, areas := range m.names {
		out = append(out, DefinedName{Name: name, RefersTo: areas})
	}
	for name, body := range m.nameFormulas {
		out = append(out, DefinedName{Name: name, Formula: body})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MapSource) Tables() []NamedTable {
	out := make([]NamedTable, 0, len(m.tables))
	for name, r := range m.tables {
		out = append(out, NamedTable{Name: name, Data: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MapSource) SheetNames() []string {
	names := make([]string, 0, len(m.sheets))
	for s := range m.sheets {
		names = append(names, s)
	}
	sort.Strings(names)
	return names
}

func (m *MapSource) PopulatedCells(sheet string) []CellRef {
	var refs []CellRef
	for key := range m.cells {
		ref, err := ParseCellRef(key)
		if err == nil && ref.Sheet == sheet {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Row != refs[j].Row {
			return refs[i].Row < refs[j].Row
		}
		return refs[i].Col < refs[j].Col
	})
	return refs
}
