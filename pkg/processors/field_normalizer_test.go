package processors

import (
	"context"
	"testing"

	"github.com/ruslano69/datasync/pkg/core/dataset"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name  string
		rule  NormalizeRule
		in    string
		want  string
		apply bool
	}{
		{"number decimal comma", NormalizeNumber, "1 234,50", "1234.50", true},
		{"number apostrophe", NormalizeNumber, "-12'000", "-12000", true},
		{"number text", NormalizeNumber, "n/a", "n/a", false},
		{"email", NormalizeEmail, " John.Doe@Example.COM ", "john.doe@example.com", true},
		{"email invalid", NormalizeEmail, "john", "john", false},
		{"whitespace", NormalizeWhitespace, "  Line1\n\nLine2  ", "Line1 Line2", true},
		{"upper", NormalizeUpperCase, "abc", "ABC", true},
		{"date", NormalizeDate, "1.12.2024", "2024-12-01", true},
		{"date short year", NormalizeDate, "15/03/24", "2024-03-15", true},
		{"date invalid", NormalizeDate, "2024-12-01", "2024-12-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeValue(tt.in, tt.rule)
			if got != tt.want || ok != tt.apply {
				t.Errorf("normalizeValue(%q, %s) = %q, %v; want %q, %v", tt.in, tt.rule, got, ok, tt.want, tt.apply)
			}
		})
	}
}

func TestFieldNormalizer_Process(t *testing.T) {
	n := NewFieldNormalizer(map[string]NormalizeRule{"d": NormalizeDate, "missing": NormalizeEmail})
	ds := dataset.FromRecords([]string{"d", "n"}, []map[string]any{
		{"d": "01.02.2024", "n": int64(1)},
		{"d": nil, "n": int64(2)},
	})

	out, err := n.Process(context.Background(), ds, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if v := out.Value(0, "d"); v != "2024-02-01" {
		t.Errorf("d[0] = %#v", v)
	}
	if v := out.Value(1, "d"); v != nil {
		t.Errorf("d[1] = %#v, want nil", v)
	}
	if v := ds.Value(0, "d"); v != "01.02.2024" {
		t.Errorf("input mutated: %#v", v)
	}
}

func TestNewFieldNormalizerFromConfig(t *testing.T) {
	if _, err := NewFieldNormalizerFromConfig(map[string]any{}); err == nil {
		t.Error("expected error for missing fields")
	}
	n, err := NewFieldNormalizerFromConfig(map[string]any{"fields": map[string]any{"p": "number"}})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if n.fields["p"] != NormalizeNumber {
		t.Errorf("fields = %v", n.fields)
	}
	if _, err := NewFieldNormalizerFromConfig(map[string]any{"fields": map[string]any{"p": "phone"}}); err == nil {
		t.Error("expected error for unknown rule")
	}
}
