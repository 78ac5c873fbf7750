// Package loader builds the strain inventory table from the lab workbook and
// keeps a snapshot of it in blob storage.
package loader

import (
	"fmt"
	"strings"

	"github.com/cgem-lab/strainboard/internal/parser"
	"github.com/cgem-lab/strainboard/internal/strains"
)

// labHeader is the spreadsheet header inserted in front of every lab sheet.
const labHeader = "Lab"

// Assemble merges the sheets of the configured labs into one strain table.
// Each lab's sheet contributes its non-empty rows tagged with the lab name.
// A workbook with a single sheet that already carries a Lab column (a CSV
// export of the merged inventory) is taken as-is.
func Assemble(wb *parser.Workbook, labs []string) (*strains.Table, error) {
	if wb == nil {
		return nil, fmt.Errorf("assemble: nil workbook")
	}
	if len(wb.Sheets) == 1 && hasHeader(wb.Sheets[0], labHeader) {
		recs := records(wb.Sheets[0], "")
		return project(recs.headers, recs.rows), nil
	}
	if len(labs) == 0 {
		return nil, fmt.Errorf("assemble: no labs configured")
	}

	var headers []string
	seen := map[string]bool{labHeader: true}
	headers = append(headers, labHeader)
	var rows []map[string]string
	for _, lab := range labs {
		sh, ok := wb.Sheet(lab)
		if !ok {
			return nil, fmt.Errorf("assemble: workbook %s has no sheet for lab %q", wb.Name, lab)
		}
		recs := records(*sh, lab)
		for _, h := range recs.headers {
			if !seen[h] {
				seen[h] = true
				headers = append(headers, h)
			}
		}
		rows = append(rows, recs.rows...)
	}
	return project(headers, rows), nil
}

type sheetRecords struct {
	headers []string
	rows    []map[string]string
}

// records reads a sheet into header-keyed maps, skipping rows with no values.
// A non-empty lab is written into the Lab column of every row.
func records(sh parser.Sheet, lab string) sheetRecords {
	if len(sh.Rows) == 0 {
		return sheetRecords{}
	}
	headers := make([]string, len(sh.Rows[0]))
	for i, h := range sh.Rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	var out sheetRecords
	for _, h := range headers {
		if h != "" {
			out.headers = append(out.headers, h)
		}
	}
	for _, row := range sh.Rows[1:] {
		if emptyRow(row) {
			continue
		}
		rec := make(map[string]string, len(headers)+1)
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		if lab != "" {
			rec[labHeader] = lab
		}
		out.rows = append(out.rows, rec)
	}
	return out
}

// project renames headers to strain columns and keeps only those columns.
// Missing and empty cells become strains.Blank.
func project(headers []string, recs []map[string]string) *strains.Table {
	source := map[string]string{}
	for _, h := range headers {
		col, ok := strains.HeaderAliases[h]
		if !ok {
			continue
		}
		if _, dup := source[col]; !dup {
			source[col] = h
		}
	}
	t := strains.NewTable(strains.ColumnNames())
	t.Rows = make([]strains.Row, 0, len(recs))
	for _, rec := range recs {
		row := make(strains.Row, len(t.Columns))
		for _, col := range t.Columns {
			v := ""
			if h, ok := source[col]; ok {
				v = rec[h]
			}
			if v == "" {
				v = strains.Blank
			}
			row[col] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func hasHeader(sh parser.Sheet, name string) bool {
	if len(sh.Rows) == 0 {
		return false
	}
	for _, h := range sh.Rows[0] {
		if strings.TrimSpace(h) == name {
			return true
		}
	}
	return false
}

func emptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
