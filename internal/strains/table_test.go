package strains

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sample() *Table {
	t := NewTable([]string{ColLab, ColEntry, ColPlasmid})
	t.Rows = []Row{
		{ColLab: "Cate", ColEntry: "1", ColPlasmid: "pUC19"},
		{ColLab: "Soll", ColEntry: "1", ColPlasmid: Blank},
	}
	return t
}

func TestTable_CloneIsDeep(t *testing.T) {
	orig := sample()
	c := orig.Clone()
	c.Rows[0][ColPlasmid] = "changed"
	c.Columns[0] = "other"
	if orig.Rows[0][ColPlasmid] != "pUC19" || orig.Columns[0] != ColLab {
		t.Fatal("clone shares state with original")
	}
	var nilTable *Table
	if nilTable.Clone() != nil || nilTable.Len() != 0 || nilTable.HasColumn(ColLab) {
		t.Fatal("nil table should behave as empty")
	}
}

func TestTable_FindAndStrainID(t *testing.T) {
	tb := sample()
	r, ok := tb.Find("Soll", "1")
	if !ok || r.StrainID() != "Soll_1" {
		t.Fatalf("find Soll_1: %v %v", r, ok)
	}
	if _, ok := tb.Find("Cate", "2"); ok {
		t.Fatal("unexpected match for Cate_2")
	}
}

func TestTable_RecordsRenderBlank(t *testing.T) {
	want := [][]string{{"Cate", "1", "pUC19"}, {"Soll", "1", ""}}
	if diff := cmp.Diff(want, sample().Records()); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestColumnNamesFollowDisplayOrder(t *testing.T) {
	names := ColumnNames()
	if len(names) != len(TableColumns) || names[0] != ColLab || names[len(names)-1] != ColSubmitter {
		t.Fatalf("unexpected column names %v", names)
	}
	for header, col := range HeaderAliases {
		found := false
		for _, n := range names {
			if n == col {
				found = true
			}
		}
		if !found {
			t.Errorf("alias %q maps to unknown column %q", header, col)
		}
	}
}
