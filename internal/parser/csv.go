package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

type csvParser struct{}

func (csvParser) CanParse(filename string) bool {
	name := strings.ToLower(filename)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tsv")
}

// Parse reads a delimited file as a single-sheet workbook named after the file stem.
func (csvParser) Parse(name string, content []byte) (*Workbook, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = sniffDelimiter(name, content)

	var rows [][]string
	width := 0
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		if len(rec) > width {
			width = len(rec)
		}
		rows = append(rows, rec)
	}
	for i, rec := range rows {
		if len(rec) < width {
			tmp := make([]string, width)
			copy(tmp, rec)
			rows[i] = tmp
		}
	}
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return &Workbook{Name: base, Sheets: []Sheet{{Name: stem, Rows: rows}}}, nil
}

// sniffDelimiter picks among ',', ';' and tab by counting them in the first line.
func sniffDelimiter(name string, content []byte) rune {
	if strings.HasSuffix(strings.ToLower(name), ".tsv") {
		return '\t'
	}
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestN := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}
