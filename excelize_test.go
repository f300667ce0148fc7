package cellgraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbookFixture(t *testing.T) *ExcelizeSource {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Sheet1"

	require.NoError(t, f.SetCellValue(sheet, "A1", 100))
	require.NoError(t, f.SetCellValue(sheet, "A2", 2.5))
	require.NoError(t, f.SetCellValue(sheet, "A3", "label"))
	require.NoError(t, f.SetCellValue(sheet, "A4", true))
	require.NoError(t, f.SetCellFormula(sheet, "B1", "A1*2"))
	require.NoError(t, f.SetCellFormula(sheet, "B2", "SUM(A1:A2)"))
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{
		Name:     "Base",
		RefersTo: "Sheet1!$A$1",
	}))

	src, err := NewExcelizeSource(f)
	require.NoError(t, err)
	return src
}

func TestExcelizeSourceCellTyping(t *testing.T) {
	src := workbookFixture(t)

	cell, ok := src.Cell(NewCellRef("Sheet1", 1, 1))
	require.True(t, ok)
	assert.Equal(t, 100.0, cell.Value)
	assert.False(t, cell.IsFormula())

	cell, ok = src.Cell(NewCellRef("Sheet1", 2, 1))
	require.True(t, ok)
	assert.Equal(t, 2.5, cell.Value)

	cell, ok = src.Cell(NewCellRef("Sheet1", 3, 1))
	require.True(t, ok)
	assert.Equal(t, "label", cell.Value)

	cell, ok = src.Cell(NewCellRef("Sheet1", 4, 1))
	require.True(t, ok)
	assert.Equal(t, true, cell.Value)

	_, ok = src.Cell(NewCellRef("Sheet1", 9, 9))
	assert.False(t, ok)
}

func TestExcelizeSourceFormulas(t *testing.T) {
	src := workbookFixture(t)

	cell, ok := src.Cell(NewCellRef("Sheet1", 1, 2))
	require.True(t, ok)
	require.True(t, cell.IsFormula())
	assert.Equal(t, "A1*2", cell.Formula)
}

func TestExcelizeSourceDefinedNames(t *testing.T) {
	src := workbookFixture(t)

	areas, ok := src.DefinedName("Base")
	require.True(t, ok)
	require.Len(t, areas, 1)
	assert.Equal(t, "Sheet1!A1:A1", areas[0].String())

	// lookups are case-insensitive, like the spreadsheet's
	_, ok = src.DefinedName("BASE")
	assert.True(t, ok)

	names := src.DefinedNames()
	require.Len(t, names, 1)
	assert.Equal(t, "BASE", names[0].Name)
}

func TestExcelizeSourceSheetSurface(t *testing.T) {
	src := workbookFixture(t)

	assert.Equal(t, []string{"Sheet1"}, src.SheetNames())

	cells := src.PopulatedCells("Sheet1")
	var got []string
	for _, ref := range cells {
		got = append(got, ref.CellName())
	}
	assert.Equal(t, []string{"A1", "B1", "A2", "B2", "A3", "A4"}, got)
}

func TestExcelizeSourceTables(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Sheet1"
	require.NoError(t, f.SetCellValue(sheet, "A1", "qty"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "price"))
	require.NoError(t, f.SetCellValue(sheet, "A2", 2))
	require.NoError(t, f.SetCellValue(sheet, "B2", 3))
	require.NoError(t, f.AddTable(sheet, &excelize.Table{Range: "A1:B3", Name: "Sales"}))

	src, err := NewExcelizeSource(f)
	require.NoError(t, err)

	r, ok := src.Table("sales")
	require.True(t, ok)
	// the header row is not part of the data range
	assert.Equal(t, "Sheet1!A2:B3", r.String())

	tables := src.Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, "SALES", tables[0].Name)
}

func TestSessionOverWorkbook(t *testing.T) {
	src := workbookFixture(t)
	s := NewSession(src)

	assert.Equal(t, 200.0, resolveNumber(t, s, "Sheet1!B1"))
	assert.Equal(t, 102.5, resolveNumber(t, s, "Sheet1!B2"))

	require.NoError(t, s.SetValue("Sheet1!A1", 50.0))
	assert.Equal(t, 100.0, resolveNumber(t, s, "Sheet1!B1"))
}

func TestOpenWorkbookFromDisk(t *testing.T) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	require.NoError(t, f.SetCellValue(sheet, "A1", 21))
	require.NoError(t, f.SetCellFormula(sheet, "B1", "A1*2"))

	path := filepath.Join(t.TempDir(), "model.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	src, err := OpenWorkbook(path)
	require.NoError(t, err)
	s := NewSession(src)
	assert.Equal(t, 42.0, resolveNumber(t, s, "Sheet1!B1"))

	_, err = OpenWorkbook(filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
}
