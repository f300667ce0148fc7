package cellgraph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExcelizeSource is a Source backed by an xlsx workbook. All cell content is
// read into memory up front; the excelize file is not kept open afterwards.
// Cached formula results from the workbook are retained separately so
// recalculated values can be checked against what the authoring application
// last computed.
type ExcelizeSource struct {
	cells        map[string]SourceCell
	cached       map[string]Value
	names        map[string]MultiRange
	nameFormulas map[string]string
	tables       map[string]RangeRef
	sheets       []string
}

// OpenWorkbook reads an xlsx file into an ExcelizeSource.
func OpenWorkbook(path string) (*ExcelizeSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %q: %w", path, err)
	}
	defer f.Close()
	return NewExcelizeSource(f)
}

// NewExcelizeSource reads an already-open excelize file into a source.
func NewExcelizeSource(f *excelize.File) (*ExcelizeSource, error) {
	src := &ExcelizeSource{
		cells:        make(map[string]SourceCell),
		cached:       make(map[string]Value),
		names:        make(map[string]MultiRange),
		nameFormulas: make(map[string]string),
		tables:       make(map[string]RangeRef),
		sheets:       f.GetSheetList(),
	}
	for _, sheet := range src.sheets {
		if err := src.readSheet(f, sheet); err != nil {
			return nil, err
		}
	}
	for _, dn := range f.GetDefinedName() {
		if strings.HasPrefix(dn.Name, "_xlnm.") {
			continue // print areas, filter databases
		}
		if areas, err := ParseMultiRange(dn.RefersTo); err == nil {
			src.names[strings.ToUpper(dn.Name)] = areas
			continue
		}
		// a name that is not a range aliases a formula body
		src.nameFormulas[strings.ToUpper(dn.Name)] = strings.TrimPrefix(dn.RefersTo, "=")
	}
	return src, nil
}

func (x *ExcelizeSource) readSheet(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read rows from sheet %q: %w", sheet, err)
	}
	for rowIdx, row := range rows {
		for colIdx, cellVal := range row {
			cellName, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			if err != nil {
				return err
			}
			ref := CellRef{Sheet: sheet, Row: rowIdx + 1, Col: colIdx + 1}

			formula, err := f.GetCellFormula(sheet, cellName)
			if err == nil && formula != "" {
				x.cells[ref.String()] = SourceCell{Formula: formula}
				x.cached[ref.String()] = detectCellValue(cellVal)
				continue
			}
			if cellVal == "" {
				continue
			}
			x.cells[ref.String()] = SourceCell{Value: detectCellValue(cellVal)}
		}
	}

	tables, err := f.GetTables(sheet)
	if err != nil {
		return fmt.Errorf("read tables from sheet %q: %w", sheet, err)
	}
	for _, t := range tables {
		r, err := ParseRangeRef(sheet + "!" + t.Range)
		if err != nil {
			continue
		}
		x.tables[strings.ToUpper(t.Name)] = tableDataRange(r)
	}
	return nil
}

// tableDataRange drops the header row: a structured reference resolves to
// the data body.
func tableDataRange(r RangeRef) RangeRef {
	if r.End.Row > r.Start.Row {
		r.Start.Row++
	}
	return r
}

// detectCellValue types a formatted cell string: number, boolean, error
// token, or text.
func detectCellValue(val string) Value {
	if n, err := strconv.ParseFloat(val, 64); err == nil {
		return n
	}
	switch val {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if ev, ok := ParseErrorValue(val); ok {
		return ev
	}
	return val
}

func (x *ExcelizeSource) Cell(ref CellRef) (SourceCell, bool) {
	c, ok := x.cells[ref.String()]
	return c, ok
}

// CachedValue returns the last value the workbook's authoring application
// computed for a formula cell.
func (x *ExcelizeSource) CachedValue(ref CellRef) (Value, bool) {
	v, ok := x.cached[ref.String()]
	return v, ok
}

func (x *ExcelizeSource) DefinedName(name string) (MultiRange, bool) {
	areas, ok := x.names[strings.ToUpper(name)]
	return areas, ok
}

func (x *ExcelizeSource) NamedFormula(name string) (string, bool) {
	body, ok := x.nameFormulas[strings.ToUpper(name)]
	return body, ok
}

func (x *ExcelizeSource) Table(name string) (RangeRef, bool) {
	r, ok := x.tables[strings.ToUpper(name)]
	return r, ok
}

func (x *ExcelizeSource) DefinedNames() []DefinedName {
	out := make([]DefinedName, 0, len(x.names)+len(x.nameFormulas))
	for name, areas := range x.names {
		out = append(out, DefinedName{Name: name, RefersTo: areas})
	}
	for name, body := range x.nameFormulas {
		out = append(out, DefinedName{Name: name, Formula: body})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (x *ExcelizeSource) Tables() []NamedTable {
	out := make([]NamedTable, 0, len(x.tables))
	for name, r := range x.tables {
		out = append(out, NamedTable{Name: name, Data: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (x *ExcelizeSource) SheetNames() []string {
	return append([]string(nil), x.sheets...)
}

func (x *ExcelizeSource) PopulatedCells(sheet string) []CellRef {
	var refs []CellRef
	for key := range x.cells {
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
