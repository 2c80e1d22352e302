package schema

import (
	"strings"
	"testing"
	"time"
)

func TestInferInteger(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   DataType
	}{
		{"small range", []any{int64(1), int64(-5), nil, int64(2147483647)}, TypeInteger},
		{"exceeds int32", []any{int64(1), int64(2147483648)}, TypeBigInt},
		{"below int32", []any{int64(-2147483649)}, TypeBigInt},
		{"all null", []any{nil, nil}, TypeBigInt},
		{"empty", nil, TypeBigInt},
		{"numeric strings", []any{"10", "20"}, TypeInteger},
		{"unparsable", []any{"abc"}, TypeBigInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferColumnType(tt.values, CategoryInteger)
			if got.Type != tt.want {
				t.Errorf("InferColumnType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInferFloat(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   ColumnType
	}{
		{"regular", []any{10.5, 3.25, nil}, ColumnType{Type: TypeDouble}},
		{"six fraction digits", []any{1.123456}, ColumnType{Type: TypeDouble}},
		{"seven fraction digits", []any{1.1234567}, ColumnType{Type: TypeDecimal, Precision: 8, Scale: 7}},
		{"large magnitude", []any{12345678901.5}, ColumnType{Type: TypeDecimal, Precision: 12, Scale: 1}},
		{"large integer-valued", []any{2e10}, ColumnType{Type: TypeDecimal, Precision: 11, Scale: 0}},
		{"scale capped", []any{0.123456789012}, ColumnType{Type: TypeDecimal, Precision: 13, Scale: 10}},
		{"all null", []any{nil}, ColumnType{Type: TypeDouble}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferColumnType(tt.values, CategoryFloat)
			if got != tt.want {
				t.Errorf("InferColumnType() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInferFloatFallback(t *testing.T) {
	got := InferColumnType([]any{"not a number"}, CategoryFloat)
	if got != FallbackType {
		t.Errorf("expected fallback %s, got %s", FallbackType, got)
	}
}

func TestInferText(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   ColumnType
	}{
		{"short", []any{"abc"}, ColumnType{Type: TypeVarchar, Length: 50}},
		{"medium", []any{strings.Repeat("x", 40)}, ColumnType{Type: TypeVarchar, Length: 80}},
		{"capped", []any{strings.Repeat("x", 200)}, ColumnType{Type: TypeVarchar, Length: 255}},
		{"boundary", []any{strings.Repeat("x", 255)}, ColumnType{Type: TypeVarchar, Length: 255}},
		{"long", []any{strings.Repeat("x", 256)}, ColumnType{Type: TypeText}},
		{"utf8 bytes", []any{strings.Repeat("я", 30)}, ColumnType{Type: TypeVarchar, Length: 120}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferColumnType(tt.values, CategoryText)
			if got != tt.want {
				t.Errorf("InferColumnType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInferDirectMappings(t *testing.T) {
	if got := InferColumnType([]any{time.Now()}, CategoryTemporal); got.Type != TypeTimestamp {
		t.Errorf("temporal: got %s", got)
	}
	if got := InferColumnType([]any{true}, CategoryBoolean); got.Type != TypeBoolean {
		t.Errorf("boolean: got %s", got)
	}
	if got := InferColumnType([]any{1}, Category("weird")); got != FallbackType {
		t.Errorf("unknown category: got %s", got)
	}
}

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		in   string
		want ColumnType
	}{
		{"INTEGER", ColumnType{Type: TypeInteger}},
		{"int4", ColumnType{Type: TypeInteger}},
		{"bigint", ColumnType{Type: TypeBigInt}},
		{"int unsigned", ColumnType{Type: TypeInteger}},
		{"double precision", ColumnType{Type: TypeDouble}},
		{"NUMERIC(12,4)", ColumnType{Type: TypeDecimal, Precision: 12, Scale: 4}},
		{"character varying(100)", ColumnType{Type: TypeVarchar, Length: 100}},
		{"nvarchar(max)", ColumnType{Type: TypeText}},
		{"timestamp without time zone", ColumnType{Type: TypeTimestamp}},
		{"datetime2", ColumnType{Type: TypeTimestamp}},
		{"boolean", ColumnType{Type: TypeBoolean}},
		{"bytea", ColumnType{Type: TypeBlob}},
		{"something_odd", ColumnType{Type: TypeText}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseColumnType(tt.in); got != tt.want {
				t.Errorf("ParseColumnType(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestColumnTypeString(t *testing.T) {
	if s := (ColumnType{Type: TypeVarchar, Length: 50}).String(); s != "VARCHAR(50)" {
		t.Errorf("got %s", s)
	}
	if s := (ColumnType{Type: TypeDecimal, Precision: 12, Scale: 4}).String(); s != "DECIMAL(12,4)" {
		t.Errorf("got %s", s)
	}
	if s := (ColumnType{Type: TypeText}).String(); s != "TEXT" {
		t.Errorf("got %s", s)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   Category
	}{
		{"ints", []any{int64(1), 2, nil}, CategoryInteger},
		{"int strings", []any{"1", " 2 "}, CategoryInteger},
		{"floats", []any{1.5, 2.0}, CategoryFloat},
		{"mixed numeric strings", []any{"1", "2.5"}, CategoryFloat},
		{"bools", []any{true, false}, CategoryBoolean},
		{"times", []any{time.Now()}, CategoryTemporal},
		{"date strings", []any{"2024-01-15", "2024-02-01"}, CategoryTemporal},
		{"text", []any{"abc", "1"}, CategoryText},
		{"empty", []any{nil}, CategoryText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.values); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("qty", "42", CategoryInteger)
	if err != nil || v != int64(42) {
		t.Fatalf("Coerce int: %v, %v", v, err)
	}

	v, err = Coerce("price", "10.25", CategoryFloat)
	if err != nil || v != 10.25 {
		t.Fatalf("Coerce float: %v, %v", v, err)
	}

	v, err = Coerce("day", "2024-01-15", CategoryTemporal)
	if err != nil {
		t.Fatalf("Coerce date: %v", err)
	}
	if tm := v.(time.Time); tm.Year() != 2024 || tm.Day() != 15 {
		t.Errorf("unexpected date %v", tm)
	}

	if _, err = Coerce("qty", "abc", CategoryInteger); err == nil {
		t.Fatal("expected validation error")
	} else if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected *ValidationError, got %T", err)
	}

	if v, _ := Coerce("x", nil, CategoryFloat); v != nil {
		t.Errorf("nil must stay nil, got %v", v)
	}
}

func TestNormalizeDBValue(t *testing.T) {
	if v := NormalizeDBValue([]byte("abc")); v != "abc" {
		t.Errorf("[]byte: got %#v", v)
	}
	if v := NormalizeDBValue(int32(7)); v != int64(7) {
		t.Errorf("int32: got %#v", v)
	}
	if v := NormalizeDBValue(float32(1.5)); v != float64(1.5) {
		t.Errorf("float32: got %#v", v)
	}
	if v := NormalizeDBValue(map[string]any{"a": 1}); v != `{"a":1}` {
		t.Errorf("map: got %#v", v)
	}
}

func TestBuilderAndValidate(t *testing.T) {
	tbl := NewBuilder("quotes").
		AddIdentity(IdentityColumn).
		AddColumn("symbol", ColumnType{Type: TypeVarchar, Length: 50}).
		AddColumn("price", ColumnType{Type: TypeDouble}).
		AddAuditColumns().
		AddUnique("symbol").
		Build()

	if len(tbl.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %d", len(tbl.Columns))
	}
	if !tbl.Columns[0].PrimaryKey || !tbl.Columns[0].AutoIncrement {
		t.Error("identity column must be an auto-increment primary key")
	}
	if !tbl.HasColumn("UPDATE_TIME") {
		t.Error("HasColumn must be case-insensitive")
	}
	if err := ValidateTable(tbl); err != nil {
		t.Fatalf("ValidateTable: %v", err)
	}

	missing := tbl.MissingColumns([]string{"symbol", "volume", "price", "turnover"})
	if len(missing) != 2 || missing[0] != "volume" || missing[1] != "turnover" {
		t.Errorf("MissingColumns = %v", missing)
	}

	bad := NewBuilder("t").AddColumn("a", ColumnType{Type: TypeText}).AddColumn("A", ColumnType{Type: TypeText}).Build()
	if err := ValidateTable(bad); err == nil {
		t.Error("expected duplicate column error")
	}

	bad = NewBuilder("t").AddColumn("a", ColumnType{Type: TypeText}).AddUnique("b").Build()
	if err := ValidateTable(bad); err == nil {
		t.Error("expected unknown unique column error")
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"price", "涨跌幅(%)", "stock zh a", "_internal"}
	for _, name := range valid {
		if err := ValidateIdentifier(name); err != nil {
			t.Errorf("ValidateIdentifier(%q): %v", name, err)
		}
	}

	invalid := []string{"", "  ", `a"b`, "x;drop", "a`b", "[x]", strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateIdentifier(name); err == nil {
			t.Errorf("ValidateIdentifier(%q) expected error", name)
		}
	}
}
