package dataset

import (
	"testing"

	"github.com/ruslano69/datasync/pkg/core/schema"
)

func sample() *Dataset {
	return &Dataset{
		Columns: []Column{
			{Name: "id", Category: schema.CategoryInteger},
			{Name: "price", Category: schema.CategoryFloat},
		},
		Rows: [][]any{
			{int64(1), 10.0},
			{int64(2), 20.5},
			{int64(3), nil},
		},
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ds := sample()
	cp := ds.Clone()
	cp.Rows[0][1] = 99.0
	cp.Columns[0].Name = "changed"

	if ds.Rows[0][1] != 10.0 {
		t.Error("Clone must not share row storage")
	}
	if ds.Columns[0].Name != "id" {
		t.Error("Clone must not share column storage")
	}
}

func TestSliceSelectConcat(t *testing.T) {
	ds := sample()

	part := ds.Slice(1, 10)
	if part.Len() != 2 || part.Rows[0][0] != int64(2) {
		t.Fatalf("Slice returned %v", part.Rows)
	}

	sel := ds.Select([]int{2, 0})
	if sel.Len() != 2 || sel.Rows[0][0] != int64(3) {
		t.Fatalf("Select returned %v", sel.Rows)
	}

	other := &Dataset{
		Columns: []Column{{Name: "price"}, {Name: "volume"}},
		Rows:    [][]any{{1.5, int64(100)}},
	}
	all := Concat(ds.Slice(0, 1), other, nil)
	if got := all.ColumnNames(); len(got) != 3 || got[2] != "volume" {
		t.Fatalf("Concat columns = %v", got)
	}
	if all.Len() != 2 {
		t.Fatalf("Concat rows = %d", all.Len())
	}
	if all.Rows[1][0] != nil || all.Rows[1][1] != 1.5 || all.Rows[0][2] != nil {
		t.Errorf("Concat alignment wrong: %v", all.Rows)
	}
}

func TestProjectRenameDrop(t *testing.T) {
	ds := sample()

	p, err := ds.Project("price")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(p.Columns) != 1 || p.Rows[1][0] != 20.5 {
		t.Errorf("Project result %v", p.Rows)
	}

	if _, err := ds.Project("missing"); err == nil {
		t.Error("Project must fail for unknown column")
	}

	r := ds.Rename(map[string]string{"price": "close"})
	if !r.HasColumn("close") || ds.HasColumn("close") {
		t.Error("Rename must return a renamed copy")
	}

	d := ds.Drop("id", "nope")
	if d.HasColumn("id") || !d.HasColumn("price") {
		t.Errorf("Drop columns = %v", d.ColumnNames())
	}
}

func TestWithColumnAndMap(t *testing.T) {
	ds := sample()
	out := ds.WithColumn("src", schema.CategoryText, func(int) any { return "api" })
	if ds.HasColumn("src") {
		t.Fatal("WithColumn mutated input")
	}
	if out.Value(2, "src") != "api" {
		t.Errorf("WithColumn value = %v", out.Value(2, "src"))
	}

	doubled, err := ds.Map("id", func(v any) (any, error) { return v.(int64) * 2, nil })
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if doubled.Value(1, "id") != int64(4) || ds.Value(1, "id") != int64(2) {
		t.Error("Map must return a transformed copy")
	}
}

func TestFromRecords(t *testing.T) {
	ds := FromRecords(nil, []map[string]any{
		{"b": "x", "a": int64(1)},
		{"a": int64(2)},
	})
	if got := ds.ColumnNames(); got[0] != "a" || got[1] != "b" {
		t.Fatalf("columns = %v", got)
	}
	if ds.Columns[0].Category != schema.CategoryInteger {
		t.Errorf("category = %s", ds.Columns[0].Category)
	}
	if ds.Value(1, "b") != nil {
		t.Error("missing keys must become nil")
	}
	if rec := ds.Record(0); rec["b"] != "x" {
		t.Errorf("Record = %v", rec)
	}
}

func TestFingerprint(t *testing.T) {
	a := sample()
	b := sample()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("equal datasets must have equal fingerprints")
	}

	b.Rows[0][0] = 1 // int вместо int64
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint must not depend on Go integer type")
	}

	b.Rows[1][1] = 20.6
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different data must change fingerprint")
	}
}

func TestMetadataMonotonic(t *testing.T) {
	m := Metadata{KeyInterface: "stock_zh_a_hist"}
	m2 := m.With(KeyTableName, "quotes")
	m3 := m2.Merge(Metadata{KeyRowCount: 10})

	if _, ok := m[KeyTableName]; ok {
		t.Error("With must not mutate receiver")
	}
	for _, k := range []string{KeyInterface, KeyTableName, KeyRowCount} {
		if _, ok := m3[k]; !ok {
			t.Errorf("merged metadata lost key %s", k)
		}
	}
	if m3.String(KeyInterface) != "stock_zh_a_hist" {
		t.Error("String accessor failed")
	}
}

func TestInferTable(t *testing.T) {
	ds := sample()
	ds = ds.WithColumn("name", "", func(row int) any { return "item" })

	table := InferTable(ds, "prices")
	if table.Name != "prices" || len(table.Columns) != 3 {
		t.Fatalf("unexpected table: %+v", table)
	}
	if got := table.Columns[0].Type.Type; got != schema.TypeInteger {
		t.Errorf("id: expected INTEGER, got %s", got)
	}
	if got := table.Columns[1].Type.Type; got != schema.TypeDouble {
		t.Errorf("price: expected DOUBLE, got %s", got)
	}
	if got := table.Columns[2].Type.String(); got != "VARCHAR(50)" {
		t.Errorf("name: expected VARCHAR(50), got %s", got)
	}
	for _, c := range table.Columns {
		if !c.Nullable {
			t.Errorf("column %s must be nullable", c.Name)
		}
	}
}
