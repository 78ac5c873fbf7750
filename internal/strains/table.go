package strains

import "fmt"

// Row maps column names to cell values.
type Row map[string]string

// Get returns the value for col, or "" when the row has no such column.
func (r Row) Get(col string) string { return r[col] }

// StrainID identifies a strain across the inventory as "<lab>_<entry>".
func (r Row) StrainID() string {
	return fmt.Sprintf("%s_%s", r[ColLab], r[ColEntry])
}

// Clone returns a copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of rows sharing one column schema.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable returns an empty table with the given columns.
func NewTable(columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows; a nil table has none.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether col is part of the schema.
func (t *Table) HasColumn(col string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := NewTable(t.Columns)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Find returns the first row matching lab and entry.
func (t *Table) Find(lab, entry string) (Row, bool) {
	if t == nil {
		return nil, false
	}
	for _, r := range t.Rows {
		if r[ColLab] == lab && r[ColEntry] == entry {
			return r, true
		}
	}
	return nil, false
}

// Records renders rows as string slices in column order with Blank cells
// shown as empty strings.
func (t *Table) Records() [][]string {
	if t == nil {
		return nil
	}
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			rec[j] = Display(r[c])
		}
		out[i] = rec
	}
	return out
}
