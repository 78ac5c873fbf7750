// Package dashboard holds the strain inventory shown on the dashboard and
// answers the two questions the UI asks of it: how many strains fall under
// each category value, and which strains remain after the user's selection.
package dashboard

import (
	"sort"

	"github.com/cgem-lab/strainboard/internal/strains"
)

// AllValue is the pseudo-value whose count is the total row count of a category.
const AllValue = "All"

// Pair names one bar of the counts chart.
type Pair struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

// CountEntry is the number of rows where Category equals Value.
type CountEntry struct {
	Category string `json:"category"`
	Value    string `json:"value"`
	Count    int    `json:"count"`
}

// Pair returns the (category, value) key of the entry.
func (c CountEntry) Pair() Pair { return Pair{Category: c.Category, Value: c.Value} }

// Universe is the ordered set of pairs observed when the inventory was last
// loaded. It keeps the chart axis stable while the view is filtered.
type Universe []Pair

// UniverseOf extracts the pair ordering from a counts sequence.
func UniverseOf(counts []CountEntry) Universe {
	out := make(Universe, len(counts))
	for i, c := range counts {
		out[i] = c.Pair()
	}
	return out
}

// Config selects which columns are counted and how.
type Config struct {
	// Categories are counted in this order.
	Categories []string
	// FixedLabels pins a category to a known label list; counts are
	// reindexed against it and labels outside the list are dropped.
	FixedLabels map[string][]string
}

// DefaultConfig counts the default plot columns with lab pinned to the default labs.
func DefaultConfig() Config {
	return Config{
		Categories:  append([]string(nil), strains.DefaultPlotColumns...),
		FixedLabels: map[string][]string{strains.ColLab: append([]string(nil), strains.DefaultLabs...)},
	}
}

// ComputeCounts tallies every configured category of t. When universe is
// non-nil the result is left-joined onto it: exactly one entry per universe
// pair, in universe order, zero when the pair no longer occurs.
func ComputeCounts(cfg Config, t *strains.Table, universe Universe) []CountEntry {
	var out []CountEntry
	for _, cat := range cfg.Categories {
		if !t.HasColumn(cat) {
			continue
		}
		var entries []CountEntry
		if labels, ok := cfg.FixedLabels[cat]; ok {
			entries = labelCounts(t, cat, labels)
		} else {
			entries = valueCounts(t, cat)
		}
		if len(entries) > 1 {
			out = append(out, CountEntry{Category: cat, Value: AllValue, Count: t.Len()})
		}
		out = append(out, entries...)
	}
	if universe == nil {
		return out
	}
	return joinUniverse(universe, out)
}

// valueCounts is the distinct-value frequency table of col, most frequent
// first, ties in first-observed order.
func valueCounts(t *strains.Table, col string) []CountEntry {
	idx := map[string]int{}
	var entries []CountEntry
	for _, r := range t.Rows {
		v := r.Get(col)
		i, ok := idx[v]
		if !ok {
			i = len(entries)
			idx[v] = i
			entries = append(entries, CountEntry{Category: col, Value: v})
		}
		entries[i].Count++
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })
	return entries
}

// labelCounts counts col against a fixed label list, most frequent first,
// ties in label order.
func labelCounts(t *strains.Table, col string, labels []string) []CountEntry {
	tally := map[string]int{}
	for _, r := range t.Rows {
		tally[r.Get(col)]++
	}
	entries := make([]CountEntry, len(labels))
	for i, l := range labels {
		entries[i] = CountEntry{Category: col, Value: l, Count: tally[l]}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })
	return entries
}

func joinUniverse(universe Universe, counts []CountEntry) []CountEntry {
	byPair := make(map[Pair]int, len(counts))
	for _, c := range counts {
		byPair[c.Pair()] = c.Count
	}
	out := make([]CountEntry, len(universe))
	for i, p := range universe {
		out[i] = CountEntry{Category: p.Category, Value: p.Value, Count: byPair[p]}
	}
	return out
}
