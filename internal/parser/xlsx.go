package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

type xlsxParser struct{}

func (xlsxParser) CanParse(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".xlsx")
}

// Parse reads every worksheet of an .xlsx file in workbook order.
func (xlsxParser) Parse(name string, content []byte) (*Workbook, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	workbookXML, err := readZipEntry(files, "xl/workbook.xml")
	if err != nil {
		return nil, fmt.Errorf("xlsx %s: %w", filepath.Base(name), err)
	}
	relsXML, _ := readZipEntry(files, "xl/_rels/workbook.xml.rels")
	sharedXML, _ := readZipEntry(files, "xl/sharedStrings.xml")

	shared := parseSharedStrings(sharedXML)
	rels := parseRelationships(relsXML)
	wb := &Workbook{Name: filepath.Base(name)}
	for i, s := range parseWorkbookSheets(workbookXML) {
		target := ""
		if rel, ok := rels[s.rid]; ok {
			target = normalizeRelPath(rel)
		}
		if _, ok := files[target]; !ok {
			target = path.Join("xl", "worksheets", fmt.Sprintf("sheet%d.xml", i+1))
		}
		data, err := readZipEntry(files, target)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", s.name, err)
		}
		wb.Sheets = append(wb.Sheets, Sheet{Name: s.name, Rows: readSheetRows(data, shared)})
	}
	return wb, nil
}

var errMissingEntry = errors.New("missing zip entry")

func readZipEntry(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errMissingEntry, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type sheetRef struct {
	name string
	rid  string
}

func parseWorkbookSheets(data []byte) []sheetRef {
	var out []sheetRef
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		var s sheetRef
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				s.name = a.Value
			case "id":
				s.rid = a.Value
			}
		}
		out = append(out, s)
	}
}

// parseRelationships maps relationship ids to their targets.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	}
}

// parseSharedStrings reads sharedStrings.xml. Phonetic runs (rPh) are
// reading aids and are not part of the cell text.
func parseSharedStrings(data []byte) []string {
	var out []string
	var buf strings.Builder
	inT := false
	phonetic := 0
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
				phonetic = 0
			case "rPh":
				phonetic++
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inT = false
			case "rPh":
				phonetic--
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inT && phonetic == 0 {
				buf.Write(se)
			}
		}
	}
}

// readSheetRows decodes sheet XML into rows padded to the widest row.
func readSheetRows(data []byte, shared []string) [][]string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var rows [][]string
	var cur []string
	width := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "row":
				cur = nil
			case "c":
				var ref, typ string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				val := readCell(dec, typ, shared)
				col := len(cur)
				if i, ok := colIndexFromRef(ref); ok {
					col = i
				}
				if col >= maxColumns {
					continue
				}
				if len(cur) <= col {
					tmp := make([]string, col+1)
					copy(tmp, cur)
					cur = tmp
				}
				cur[col] = val
			}
		case xml.EndElement:
			if se.Name.Local == "row" {
				if len(cur) > width {
					width = len(cur)
				}
				rows = append(rows, cur)
			}
		}
	}
	for i, r := range rows {
		if len(r) < width {
			tmp := make([]string, width)
			copy(tmp, r)
			rows[i] = tmp
		}
	}
	return rows
}

// readCell consumes tokens up to the closing </c> and returns the cell text.
func readCell(dec *xml.Decoder, typ string, shared []string) string {
	var sb strings.Builder
	capture := false
	phonetic := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "v", "t":
				capture = true
			case "rPh":
				phonetic++
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "v", "t":
				capture = false
			case "rPh":
				phonetic--
			}
			if se.Name.Local == "c" {
				val := sb.String()
				if typ == "s" {
					idx := atoiSafe(val)
					if idx >= 0 && idx < len(shared) {
						return shared[idx]
					}
					return ""
				}
				return val
			}
		case xml.CharData:
			if capture && phonetic == 0 {
				sb.Write(se)
			}
		}
	}
	return sb.String()
}

// maxColumns is the widest sheet Excel can write (column XFD).
const maxColumns = 16384

// colIndexFromRef converts a cell reference like "C12" to a 0-based column
// index. References without column letters or beyond XFD are rejected.
func colIndexFromRef(ref string) (int, bool) {
	idx, letters := 0, 0
	for ; letters < len(ref); letters++ {
		c := ref[letters]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			break
		}
		if letters == 3 {
			return 0, false
		}
		idx = idx*26 + int(c-'A'+1)
	}
	if letters == 0 || idx > maxColumns {
		return 0, false
	}
	return idx - 1, true
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// normalizeRelPath converts relationship targets to zip entry names.
// Targets may be absolute ("/xl/worksheets/sheet1.xml") or relative to xl/.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
