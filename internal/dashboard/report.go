package dashboard

import (
	"fmt"
	"strings"

	"github.com/cgem-lab/strainboard/internal/strains"
)

// Markdown renders the view's counts next to the load-time counts, grouped by category.
func (v View) Markdown() string {
	var b strings.Builder
	b.WriteString("[STRAIN COUNTS]\n")
	b.WriteString(fmt.Sprintf("Rows: %d of %d\n", v.Current.Len(), v.Full.Len()))
	if len(v.Selection) > 0 {
		parts := make([]string, len(v.Selection))
		for i, p := range v.Selection {
			parts[i] = p.Category + "=" + p.Value
		}
		b.WriteString(fmt.Sprintf("Selection: %s\n", strings.Join(parts, ", ")))
	}
	if !v.LoadedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Loaded: %s UTC\n", v.LoadedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	base := make(map[Pair]int, len(v.Baseline))
	for _, c := range v.Baseline {
		base[c.Pair()] = c.Count
	}
	cat := ""
	for _, c := range v.Counts {
		if c.Category != cat {
			cat = c.Category
			b.WriteString(fmt.Sprintf("\n[%s]\n", strings.ToUpper(cat)))
		}
		val := strains.Display(c.Value)
		if val == "" {
			val = "(blank)"
		}
		b.WriteString(fmt.Sprintf("- %s: %d", safeVal(val), c.Count))
		if total := base[c.Pair()]; total != c.Count {
			b.WriteString(fmt.Sprintf(" / %d", total))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// TableMarkdown renders the filtered rows as a markdown table.
func (v View) TableMarkdown() string {
	t := v.Current
	if t == nil || len(t.Columns) == 0 {
		return "(no strains)\n"
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(t.Columns)) + "\n")
	for _, rec := range t.Records() {
		for i := range rec {
			rec[i] = safeVal(rec[i])
		}
		b.WriteString("| " + strings.Join(rec, " | ") + " |\n")
	}
	return b.String()
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
