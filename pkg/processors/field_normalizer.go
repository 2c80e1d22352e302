package processors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// NormalizeRule - правило приведения строкового значения
type NormalizeRule string

const (
	NormalizeNumber     NormalizeRule = "number"     // "1 234,50" -> "1234.50"
	NormalizeEmail      NormalizeRule = "email"      // trim + нижний регистр
	NormalizeWhitespace NormalizeRule = "whitespace" // trim + один пробел между словами
	NormalizeUpperCase  NormalizeRule = "uppercase"
	NormalizeLowerCase  NormalizeRule = "lowercase"
	NormalizeDate       NormalizeRule = "date" // DD.MM.YYYY, D/M/YY -> YYYY-MM-DD
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
	dateRe       = regexp.MustCompile(`^(\d{1,2})[./\-](\d{1,2})[./\-](\d{2}|\d{4})$`)
)

// normalizers возвращают false, если правило к значению неприменимо
var normalizers = map[NormalizeRule]func(string) (string, bool){
	NormalizeNumber: normalizeNumber,
	NormalizeEmail: func(s string) (string, bool) {
		e := strings.ToLower(strings.TrimSpace(s))
		return e, strings.Contains(e, "@") && strings.Contains(e, ".")
	},
	NormalizeWhitespace: func(s string) (string, bool) {
		return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " "), true
	},
	NormalizeUpperCase: func(s string) (string, bool) { return strings.ToUpper(s), true },
	NormalizeLowerCase: func(s string) (string, bool) { return strings.ToLower(s), true },
	NormalizeDate:      normalizeDate,
}

// FieldNormalizer применяет правило к строкам своей колонки. nil,
// нестроковые значения и значения, к которым правило неприменимо,
// остаются без изменений. Отсутствующие колонки пропускаются.
type FieldNormalizer struct {
	fields map[string]NormalizeRule
}

func NewFieldNormalizer(fields map[string]NormalizeRule) *FieldNormalizer {
	return &FieldNormalizer{fields: fields}
}

func (n *FieldNormalizer) Name() string { return "field_normalizer" }

func (n *FieldNormalizer) Process(_ context.Context, ds *dataset.Dataset, _ dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	for _, col := range sortedKeys(n.fields) {
		idx := out.Index(col)
		if idx < 0 {
			continue
		}
		rule := n.fields[col]
		mapColumn(out, idx, func(v any) any {
			if s, ok := v.(string); ok {
				if norm, applied := normalizeValue(s, rule); applied {
					return norm
				}
			}
			return v
		})
		// после приведения строки могут стать датами или числами
		if rule == NormalizeDate || rule == NormalizeNumber {
			out.Columns[idx].Category = schema.Classify(out.ColumnValues(idx))
		}
	}
	return out, nil
}

func normalizeValue(value string, rule NormalizeRule) (string, bool) {
	fn, ok := normalizers[rule]
	if !ok {
		return value, false
	}
	norm, applied := fn(value)
	if !applied {
		return value, false
	}
	return norm, true
}

// normalizeNumber убирает разделители тысяч (пробел, неразрывный пробел,
// апостроф) и заменяет десятичную запятую точкой
func normalizeNumber(value string) (string, bool) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\'', '_':
			return -1
		case ',':
			return '.'
		}
		return r
	}, strings.TrimSpace(value))
	if !numberRe.MatchString(s) {
		return value, false
	}
	return s, true
}

func normalizeDate(value string) (string, bool) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return value, false
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return year + "-" + twoDigits(m[2]) + "-" + twoDigits(m[1]), true
}

func twoDigits(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// NewFieldNormalizerFromConfig читает params.fields: колонка -> правило
//
//	params:
//	  fields:
//	    close: number
//	    date: date
func NewFieldNormalizerFromConfig(params map[string]any) (*FieldNormalizer, error) {
	raw, err := stringMap(params, "fields")
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("field_normalizer: 'fields' is required")
	}
	fields := make(map[string]NormalizeRule, len(raw))
	for col, r := range raw {
		rule := NormalizeRule(r)
		if _, ok := normalizers[rule]; !ok {
			return nil, fmt.Errorf("field_normalizer: unknown rule %q for column %q", r, col)
		}
		fields[col] = rule
	}
	return NewFieldNormalizer(fields), nil
}
