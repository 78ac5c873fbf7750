// Package strains defines the strain inventory schema shared by the loader,
// the dashboard engine and the request workflow.
package strains

// Blank marks a cell that had no value in the source spreadsheet. It keeps
// "no value" distinct from an empty string until rendering.
const Blank = "<blank>"

// Strain inventory columns.
const (
	ColLab       = "lab"
	ColEntry     = "entry"
	ColOrganism  = "organism"
	ColStrain    = "strain"
	ColPlasmid   = "plasmid"
	ColMarker1   = "marker1"
	ColMarker2   = "marker2"
	ColOrigin    = "origin"
	ColOrigin2   = "origin2"
	ColPromoter  = "promoter"
	ColURL       = "benchling_url"
	ColDesc      = "desc"
	ColSubmitter = "submitter"
)

// Column describes one table column and its display width in pixels.
type Column struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
	Link  bool   `json:"link,omitempty"`
}

// TableColumns lists the strain columns in display order.
var TableColumns = []Column{
	{Name: ColLab, Width: 70},
	{Name: ColEntry, Width: 38},
	{Name: ColOrganism, Width: 60},
	{Name: ColStrain, Width: 80},
	{Name: ColPlasmid, Width: 165},
	{Name: ColMarker1, Width: 55},
	{Name: ColMarker2, Width: 55},
	{Name: ColOrigin, Width: 55},
	{Name: ColOrigin2, Width: 45},
	{Name: ColPromoter, Width: 60},
	{Name: ColURL, Width: 90, Link: true},
	{Name: ColDesc, Width: 320},
	{Name: ColSubmitter, Width: 70},
}

// ColumnNames returns the names of TableColumns in order.
func ColumnNames() []string {
	out := make([]string, len(TableColumns))
	for i, c := range TableColumns {
		out[i] = c.Name
	}
	return out
}

// HeaderAliases maps spreadsheet headers to column names.
var HeaderAliases = map[string]string{
	"Name":           ColSubmitter,
	"Description":    ColDesc,
	"Lab":            ColLab,
	"Benchling File": ColURL,
	"Entry #":        ColEntry,
	"Organism":       ColOrganism,
	"Marker 1":       ColMarker1,
	"Marker 2":       ColMarker2,
	"Origin":         ColOrigin,
	"Origin 2":       ColOrigin2,
	"Plasmid":        ColPlasmid,
	"Promoter":       ColPromoter,
	"Strain":         ColStrain,
}

// DefaultLabs is the list of labs whose sheets make up the inventory.
var DefaultLabs = []string{"Schepartz", "Soll", "Cate"}

// DefaultPlotColumns are the categories summarized in the counts chart.
var DefaultPlotColumns = []string{ColMarker1, ColStrain, ColOrigin, ColLab, ColSubmitter}

// Display returns v as it should be rendered: Blank becomes "".
func Display(v string) string {
	if v == Blank {
		return ""
	}
	return v
}
