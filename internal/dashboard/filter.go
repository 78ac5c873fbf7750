package dashboard

import (
	"fmt"
	"strings"

	"github.com/cgem-lab/strainboard/internal/strains"
)

// Filter maps a category to the set of values a row may take in it.
// Categories combine with AND, values within a category with OR.
type Filter struct {
	order  []string
	accept map[string]map[string]struct{}
}

// NewFilter builds a filter from selected pairs. "All" pairs constrain nothing.
func NewFilter(pairs []Pair) Filter {
	f := Filter{accept: map[string]map[string]struct{}{}}
	for _, p := range pairs {
		if p.Value == AllValue {
			continue
		}
		set, ok := f.accept[p.Category]
		if !ok {
			set = map[string]struct{}{}
			f.accept[p.Category] = set
			f.order = append(f.order, p.Category)
		}
		set[p.Value] = struct{}{}
	}
	return f
}

// Empty reports whether the filter accepts every row.
func (f Filter) Empty() bool { return len(f.order) == 0 }

// Categories returns the constrained categories in first-selected order.
func (f Filter) Categories() []string { return append([]string(nil), f.order...) }

// Apply returns the rows of t accepted by f, in t's order. Categories that
// are not columns of t are ignored. The result shares row values with t.
func (f Filter) Apply(t *strains.Table) *strains.Table {
	out := strains.NewTable(t.Columns)
	var active []string
	for _, cat := range f.order {
		if t.HasColumn(cat) {
			active = append(active, cat)
		}
	}
	if len(active) == 0 {
		out.Rows = append(out.Rows, t.Rows...)
		return out
	}
	for _, r := range t.Rows {
		if f.matches(r, active) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

func (f Filter) matches(r strains.Row, cats []string) bool {
	for _, cat := range cats {
		if _, ok := f.accept[cat][r.Get(cat)]; !ok {
			return false
		}
	}
	return true
}

// ParsePair parses "category=value".
func ParsePair(s string) (Pair, error) {
	cat, val, ok := strings.Cut(s, "=")
	cat = strings.TrimSpace(cat)
	if !ok || cat == "" {
		return Pair{}, fmt.Errorf("invalid selection %q (want category=value)", s)
	}
	return Pair{Category: cat, Value: strings.TrimSpace(val)}, nil
}
