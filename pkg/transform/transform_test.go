package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTransformer(t *testing.T, cfg Config) *Transformer {
	t.Helper()
	tr, err := New(cfg, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func quotes() *dataset.Dataset {
	return dataset.FromRecords([]string{"code", "px", "note"}, []map[string]any{
		{"code": "abc", "px": "10.456", "note": "x"},
		{"code": "def", "px": nil, "note": "y"},
	})
}

func TestMatch(t *testing.T) {
	tr := newTransformer(t, Config{Enabled: true, Mappings: map[string]Mapping{
		"stock_zh_a_spot": {TableName: "exact"},
		"stock_*":         {TableName: "stock"},
		"stock_zh_*":      {TableName: "stock_zh"},
		"*":               {TableName: "fallback"},
	}})

	tests := []struct {
		iface string
		want  string
	}{
		{"stock_zh_a_spot", "exact"},
		{"stock_zh_index", "stock_zh"},
		{"stock_us", "stock"},
		{"fund_nav", "fallback"},
	}
	for _, tt := range tests {
		m, ok := tr.Match(tt.iface)
		if !ok || m.TableName != tt.want {
			t.Errorf("Match(%q) = %q, %v; want %q", tt.iface, m.TableName, ok, tt.want)
		}
	}
}

func TestTransform(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	tr := newTransformer(t, Config{Enabled: true, AddMetadata: true, Mappings: map[string]Mapping{
		"quotes_*": {
			TableName:     "quotes",
			ColumnMapping: map[string]string{"code": "symbol", "px": "price"},
			Transformers:  map[string]string{"symbol": "upper", "price": "round2"},
			InterfaceID:   "q1",
		},
	}})
	meta := dataset.Metadata{dataset.KeyInterface: "quotes_daily", dataset.KeyFetchTime: fetched}
	in := quotes()

	res, err := tr.Transform(context.Background(), in, meta)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if res.TableName != "quotes" {
		t.Errorf("TableName = %q", res.TableName)
	}

	want := []string{"symbol", "price", "fetch_time", "interface_id"}
	got := res.Dataset.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("columns = %v, want %v", got, want)
		}
	}

	if v := res.Dataset.Value(0, "symbol"); v != "ABC" {
		t.Errorf("symbol = %#v", v)
	}
	if v := res.Dataset.Value(0, "price"); v != 10.46 {
		t.Errorf("price = %#v, want 10.46", v)
	}
	if v := res.Dataset.Value(1, "price"); v != nil {
		t.Errorf("nil price = %#v, want nil", v)
	}
	if v := res.Dataset.Value(1, "fetch_time"); v != fetched {
		t.Errorf("fetch_time = %#v", v)
	}
	if v := res.Dataset.Value(1, "interface_id"); v != "q1" {
		t.Errorf("interface_id = %#v", v)
	}

	if res.Metadata[dataset.KeyTableName] != "quotes" ||
		res.Metadata[dataset.KeyRowCountTransformed] != 2 ||
		res.Metadata[dataset.KeyTransformTime] != fixedNow {
		t.Errorf("metadata = %v", res.Metadata)
	}
	if res.Metadata[dataset.KeyInterface] != "quotes_daily" {
		t.Error("existing metadata fields must be kept")
	}
	if _, ok := meta[dataset.KeyTableName]; ok {
		t.Error("input metadata was mutated")
	}
	if in.Columns[0].Name != "code" {
		t.Error("input dataset was mutated")
	}
}

func TestTransform_NoMapping(t *testing.T) {
	tr := newTransformer(t, Config{Enabled: true, Mappings: map[string]Mapping{"a": {TableName: "a"}}})
	_, err := tr.Transform(context.Background(), quotes(), dataset.Metadata{dataset.KeyInterface: "b"})
	if !errors.Is(err, syncerr.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestTransform_MissingMappedColumn(t *testing.T) {
	tr := newTransformer(t, Config{Enabled: true, Mappings: map[string]Mapping{
		"q": {TableName: "q", ColumnMapping: map[string]string{"absent": "a"}},
	}})
	_, err := tr.Transform(context.Background(), quotes(), dataset.Metadata{dataset.KeyInterface: "q"})
	if !errors.Is(err, syncerr.ErrProcessing) {
		t.Errorf("error = %v, want processing error", err)
	}
}

func TestTransform_ValueError(t *testing.T) {
	tr := newTransformer(t, Config{Enabled: true, Mappings: map[string]Mapping{
		"q": {TableName: "q", Transformers: map[string]string{"code": "to_float"}},
	}})
	_, err := tr.Transform(context.Background(), quotes(), dataset.Metadata{dataset.KeyInterface: "q"})
	if !errors.Is(err, syncerr.ErrProcessing) {
		t.Errorf("error = %v, want processing error", err)
	}
}

func TestTransform_Disabled(t *testing.T) {
	tr := newTransformer(t, Config{Enabled: false})
	res, err := tr.Transform(context.Background(), quotes(), dataset.Metadata{dataset.KeyInterface: "Stock-ZH.Spot"})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if res.TableName != "raw_stock_zh_spot" {
		t.Errorf("TableName = %q", res.TableName)
	}
	if res.Metadata[dataset.KeyTransformSkipped] != true {
		t.Errorf("metadata = %v", res.Metadata)
	}
	if len(res.Dataset.Columns) != 3 {
		t.Errorf("columns = %v, want untouched", res.Dataset.ColumnNames())
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mappings map[string]Mapping
	}{
		{"missing table", map[string]Mapping{"a": {}}},
		{"bad table", map[string]Mapping{"a": {TableName: "x;drop"}}},
		{"unknown transformer", map[string]Mapping{"a": {TableName: "a", Transformers: map[string]string{"c": "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Enabled: true, Mappings: tt.mappings})
			if !errors.Is(err, syncerr.ErrConfiguration) {
				t.Errorf("error = %v, want configuration error", err)
			}
		})
	}
}

func TestValueFuncs(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{"upper", "abc", "ABC", false},
		{"lower", "ABC", "abc", false},
		{"trim", "  a ", "a", false},
		{"to_string", int64(5), "5", false},
		{"to_float", "1.5", 1.5, false},
		{"to_float", "x", nil, true},
		{"to_int", "42", int64(42), false},
		{"to_int", 3.7, int64(3), false},
		{"date", "2024-05-06 10:11:12", "2024-05-06", false},
		{"date", "nope", nil, true},
		{"abs", int64(-3), int64(3), false},
		{"abs", "-2.5", 2.5, false},
		{"round2", 1.005, 1.0, false},
		{"round2", "2.346", 2.35, false},
	}
	for _, tt := range tests {
		fn, ok := LookupValue(tt.name)
		if !ok {
			t.Fatalf("transformer %s not registered", tt.name)
		}
		got, err := fn(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s(%v) error = %v, wantErr %v", tt.name, tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("%s(%v) = %#v, want %#v", tt.name, tt.in, got, tt.want)
		}
	}
}
