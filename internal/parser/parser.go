package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sheet is one named grid of cells; the first row is normally the header.
type Sheet struct {
	Name string
	Rows [][]string
}

// Workbook is the ordered set of sheets read from one file.
type Workbook struct {
	Name   string
	Sheets []Sheet
}

// Sheet returns the sheet called name, matched case-insensitively.
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	if w == nil {
		return nil, false
	}
	for i := range w.Sheets {
		if strings.EqualFold(w.Sheets[i].Name, name) {
			return &w.Sheets[i], true
		}
	}
	return nil, false
}

// SheetNames lists sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	if w == nil {
		return nil
	}
	out := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		out[i] = s.Name
	}
	return out
}

// Parser turns raw file content into a workbook.
type Parser interface {
	CanParse(filename string) bool
	Parse(name string, content []byte) (*Workbook, error)
}

var registry []Parser

// Register adds a parser implementation to the registry.
func Register(p Parser) {
	registry = append(registry, p)
}

// ParseWorkbook selects a parser by file name and parses content.
func ParseWorkbook(name string, content []byte) (*Workbook, error) {
	for _, p := range registry {
		if p.CanParse(name) {
			return p.Parse(name, content)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrUnsupported)
}

// ParseFile reads path from disk and parses it.
func ParseFile(path string) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseWorkbook(path, data)
}

func init() {
	Register(csvParser{})
	Register(xlsxParser{})
}

// ErrUnsupported indicates a format is not supported.
var ErrUnsupported = errors.New("unsupported workbook format")
