package parser_test

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cgem-lab/strainboard/internal/parser"
	"github.com/cgem-lab/strainboard/internal/testutil"
)

func TestParseWorkbookXLSX_AllSheetsInOrder(t *testing.T) {
	data := testutil.BuildXLSX(t,
		testutil.WorkbookSheet{Name: "Introduction", Rows: [][]string{{"Read me"}}},
		testutil.WorkbookSheet{Name: "Cate", Rows: [][]string{
			{"Entry #", "Organism", "Plasmid"},
			{"1", "E. coli", "pUC19"},
			{"2", "", "pET28"},
		}},
	)
	wb, err := parser.ParseWorkbook("strains.xlsx", data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"Introduction", "Cate"}, wb.SheetNames()); diff != "" {
		t.Fatalf("sheet names (-want +got):\n%s", diff)
	}
	cate, ok := wb.Sheet("cate")
	if !ok {
		t.Fatal("case-insensitive sheet lookup failed")
	}
	want := [][]string{
		{"Entry #", "Organism", "Plasmid"},
		{"1", "E. coli", "pUC19"},
		{"2", "", "pET28"},
	}
	if diff := cmp.Diff(want, cate.Rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

// zipWorkbook packs raw xlsx parts into an archive.
func zipWorkbook(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// singleSheet returns the parts of a one-sheet workbook named Soll.
func singleSheet(sheetData string) map[string]string {
	return map[string]string{
		"xl/workbook.xml":            `<workbook xmlns:r="r"><sheets><sheet name="Soll" sheetId="1" r:id="rId1"/></sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships><Relationship Id="rId1" Target="worksheets/sheet1.xml"/></Relationships>`,
		"xl/worksheets/sheet1.xml":   `<worksheet><sheetData>` + sheetData + `</sheetData></worksheet>`,
	}
}

func TestParseWorkbookXLSX_InlineStringsAndGaps(t *testing.T) {
	data := zipWorkbook(t, singleSheet(
		`<row r="1"><c r="A1" t="inlineStr"><is><t>Lab</t></is></c><c r="C1" t="inlineStr"><is><r><t>Mark</t></r><r><t>er 1</t></r></is></c></row>` +
			`<row r="2"><c r="A2" t="inlineStr"><is><t>Soll</t></is></c><c r="B2"><v>42</v></c></row>`))
	wb, err := parser.ParseWorkbook("x.XLSX", data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := [][]string{{"Lab", "", "Marker 1"}, {"Soll", "42", ""}}
	if diff := cmp.Diff(want, wb.Sheets[0].Rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestParseWorkbookXLSX_MalformedCellRefs(t *testing.T) {
	data := zipWorkbook(t, singleSheet(
		`<row r="1"><c r="1" t="inlineStr"><is><t>Lab</t></is></c><c t="inlineStr"><is><t>Entry #</t></is></c></row>` +
			`<row r="2"><c r="A2" t="inlineStr"><is><t>Cate</t></is></c><c r="AAAAAAAAAAAAAAAAAAAAAAAA2"><v>7</v></c><c r="ZZZ2"><v>8</v></c></row>`))
	wb, err := parser.ParseWorkbook("inv.xlsx", data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// Refs without column letters or beyond column XFD fall back to the next free column.
	want := [][]string{{"Lab", "Entry #", ""}, {"Cate", "7", "8"}}
	if diff := cmp.Diff(want, wb.Sheets[0].Rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestParseWorkbookXLSX_SharedStringsSkipPhonetic(t *testing.T) {
	files := singleSheet(`<row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>`)
	files["xl/sharedStrings.xml"] = `<sst>` +
		`<si><r><t>Tok</t></r><r><t>yo</t></r><rPh sb="0" eb="1"><t>toukyou</t></rPh></si>` +
		`<si><t>pUC19</t></si>` +
		`</sst>`
	wb, err := parser.ParseWorkbook("inv.xlsx", zipWorkbook(t, files))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([][]string{{"Tokyo", "pUC19"}}, wb.Sheets[0].Rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestParseFileCSV_SemicolonAndPadding(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "inventory.csv")
	content := "Lab;Entry #;Organism\nCate;1;E. coli\nSoll;2\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wb, err := parser.ParseFile(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(wb.Sheets) != 1 || wb.Sheets[0].Name != "inventory" {
		t.Fatalf("unexpected sheets: %v", wb.SheetNames())
	}
	want := [][]string{{"Lab", "Entry #", "Organism"}, {"Cate", "1", "E. coli"}, {"Soll", "2", ""}}
	if diff := cmp.Diff(want, wb.Sheets[0].Rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestParseWorkbookUnsupported(t *testing.T) {
	_, err := parser.ParseWorkbook("notes.docx", []byte("x"))
	if !errors.Is(err, parser.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseWorkbookCorruptXLSX(t *testing.T) {
	if _, err := parser.ParseWorkbook("broken.xlsx", []byte("not a zip")); err == nil {
		t.Fatal("expected error for corrupt xlsx")
	}
}
