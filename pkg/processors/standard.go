package processors

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
)

// DefaultNAValues - значения, которые считаются пропусками
var DefaultNAValues = []string{"-", "N/A", "n/a", "null", "NULL", "None", ""}

// StandardConfig - параметры стандартного очистителя
type StandardConfig struct {
	ColumnMapping      map[string]string // переименование колонок old -> new
	DropColumns        []string          // удаляемые колонки
	DateColumns        []string          // колонки дат
	NumericColumns     []string          // числовые колонки
	CategoricalColumns []string          // категориальные колонки
	TextColumns        []string          // текстовые колонки
	NAValues           []string          // значения-пропуски
	FillNA             bool              // заполнять пропуски
	ClipOutliers       bool              // ограничивать выбросы числовых колонок по IQR
	AddParamsAsColumns bool              // добавлять параметры интерфейса как param_<имя>
}

// DefaultStandardConfig возвращает конфигурацию по умолчанию
func DefaultStandardConfig() StandardConfig {
	return StandardConfig{
		NAValues:           DefaultNAValues,
		FillNA:             true,
		ClipOutliers:       true,
		AddParamsAsColumns: true,
	}
}

// StandardConfigFromParams читает конфигурацию из параметров YAML
func StandardConfigFromParams(params map[string]any) (StandardConfig, error) {
	cfg := DefaultStandardConfig()
	var err error

	if cfg.ColumnMapping, err = stringMap(params, "column_mapping"); err != nil {
		return cfg, err
	}
	lists := []struct {
		key string
		dst *[]string
	}{
		{"drop_columns", &cfg.DropColumns},
		{"date_columns", &cfg.DateColumns},
		{"numeric_columns", &cfg.NumericColumns},
		{"categorical_columns", &cfg.CategoricalColumns},
		{"text_columns", &cfg.TextColumns},
	}
	for _, l := range lists {
		if *l.dst, err = stringList(params, l.key); err != nil {
			return cfg, err
		}
	}
	if _, ok := params["na_values"]; ok {
		if cfg.NAValues, err = stringList(params, "na_values"); err != nil {
			return cfg, err
		}
	}
	if cfg.FillNA, err = boolParam(params, "fill_na", cfg.FillNA); err != nil {
		return cfg, err
	}
	if cfg.ClipOutliers, err = boolParam(params, "clip_outliers", cfg.ClipOutliers); err != nil {
		return cfg, err
	}
	if cfg.AddParamsAsColumns, err = boolParam(params, "add_params_as_columns", cfg.AddParamsAsColumns); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// NewStandard собирает стандартный очиститель: переименование, удаление
// колонок, пропуски, заполнение, приведение типов, нормализация текста,
// выбросы, колонки параметров и итоговая классификация колонок.
func NewStandard(cfg StandardConfig, logger zerolog.Logger) *Chain {
	logger = logger.With().Str("component", "cleaner").Logger()
	c := NewChain()
	c.name = "standard"

	if len(cfg.ColumnMapping) > 0 {
		c.Add(&RenameColumns{Mapping: cfg.ColumnMapping})
	}
	if len(cfg.DropColumns) > 0 {
		c.Add(&DropColumns{Columns: cfg.DropColumns})
	}
	if len(cfg.NAValues) > 0 {
		c.Add(&ReplaceNA{Values: cfg.NAValues})
	}
	if cfg.FillNA {
		c.Add(&FillMissing{
			Numeric:     cfg.NumericColumns,
			Categorical: cfg.CategoricalColumns,
			Date:        cfg.DateColumns,
			Text:        cfg.TextColumns,
		})
	}
	c.Add(&CoerceTypes{
		Date:        cfg.DateColumns,
		Numeric:     cfg.NumericColumns,
		Categorical: cfg.CategoricalColumns,
		Text:        cfg.TextColumns,
	})
	if len(cfg.TextColumns) > 0 {
		c.Add(NewFieldNormalizer(rulesFor(cfg.TextColumns, NormalizeWhitespace)))
	}
	if cfg.ClipOutliers && len(cfg.NumericColumns) > 0 {
		c.Add(&ClipOutliers{Columns: cfg.NumericColumns, logger: logger})
	}
	if cfg.AddParamsAsColumns {
		c.Add(&ParamsAsColumns{Prefix: "param_"})
	}
	c.Add(&Categorize{
		Date:    cfg.DateColumns,
		Numeric: cfg.NumericColumns,
		Text:    append(append([]string(nil), cfg.TextColumns...), cfg.CategoricalColumns...),
	})
	return c
}

func rulesFor(columns []string, rule NormalizeRule) map[string]NormalizeRule {
	rules := make(map[string]NormalizeRule, len(columns))
	for _, c := range columns {
		rules[c] = rule
	}
	return rules
}

// RenameColumns переименовывает существующие колонки
type RenameColumns struct {
	Mapping map[string]string
}

func (p *RenameColumns) Name() string { return "rename" }

func (p *RenameColumns) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	return ds.Rename(p.Mapping), nil
}

// DropColumns удаляет колонки, отсутствующие пропускаются
type DropColumns struct {
	Columns []string
}

func (p *DropColumns) Name() string { return "drop_columns" }

func (p *DropColumns) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	return ds.Drop(p.Columns...), nil
}

// ReplaceNA заменяет строковые значения-пропуски на nil во всех колонках
type ReplaceNA struct {
	Values []string
}

func (p *ReplaceNA) Name() string { return "na_values" }

func (p *ReplaceNA) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	na := make(map[string]bool, len(p.Values))
	for _, v := range p.Values {
		na[v] = true
	}
	out := ds.Clone()
	for _, row := range out.Rows {
		for j, v := range row {
			if s, ok := v.(string); ok && na[s] {
				row[j] = nil
			}
		}
	}
	return out, nil
}

// FillMissing заполняет пропуски: медиана для числовых колонок, мода для
// категориальных, предыдущее значение для дат, "" для текста
type FillMissing struct {
	Numeric     []string
	Categorical []string
	Date        []string
	Text        []string
}

func (p *FillMissing) Name() string { return "fill_missing" }

func (p *FillMissing) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	for _, col := range p.Numeric {
		if idx := out.Index(col); idx >= 0 {
			if m, ok := median(out.ColumnValues(idx)); ok {
				fillColumn(out, idx, func(int) any { return m })
			}
		}
	}
	for _, col := range p.Categorical {
		if idx := out.Index(col); idx >= 0 {
			if m, ok := mode(out.ColumnValues(idx)); ok {
				fillColumn(out, idx, func(int) any { return m })
			}
		}
	}
	for _, col := range p.Date {
		if idx := out.Index(col); idx >= 0 {
			// значение предыдущей строки (уже заполненное)
			fillColumn(out, idx, func(row int) any {
				if row == 0 {
					return nil
				}
				return out.Rows[row-1][idx]
			})
		}
	}
	for _, col := range p.Text {
		if idx := out.Index(col); idx >= 0 {
			fillColumn(out, idx, func(int) any { return "" })
		}
	}
	return out, nil
}

func fillColumn(ds *dataset.Dataset, idx int, value func(row int) any) {
	for i, row := range ds.Rows {
		if row[idx] == nil {
			row[idx] = value(i)
		}
	}
}

// median - медиана числовых значений
func median(values []any) (float64, bool) {
	nums := numbers(values)
	if len(nums) == 0 {
		return 0, false
	}
	sort.Float64s(nums)
	n := len(nums)
	if n%2 == 1 {
		return nums[n/2], true
	}
	return (nums[n/2-1] + nums[n/2]) / 2, true
}

// mode - самое частое значение; при равенстве - наименьшее по строковому представлению
func mode(values []any) (any, bool) {
	counts := make(map[string]int)
	first := make(map[string]any)
	for _, v := range values {
		if v == nil {
			continue
		}
		k := schema.AsString(v)
		counts[k]++
		if _, ok := first[k]; !ok {
			first[k] = v
		}
	}
	if len(counts) == 0 {
		return nil, false
	}
	best, bestCount := "", -1
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return first[best], true
}

func numbers(values []any) []float64 {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := schema.AsFloat(v); ok && schema.IsNumeric(v) {
			nums = append(nums, f)
		}
	}
	return nums
}

// CoerceTypes приводит значения колонок к типам. Неприводимые значения
// становятся nil. Числовая колонка становится целой, если все значения целые.
type CoerceTypes struct {
	Date        []string
	Numeric     []string
	Categorical []string
	Text        []string
}

func (p *CoerceTypes) Name() string { return "coerce_types" }

func (p *CoerceTypes) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	for _, col := range p.Date {
		if idx := out.Index(col); idx >= 0 {
			mapColumn(out, idx, func(v any) any {
				if t, ok := schema.AsTime(v); ok {
					return t
				}
				return nil
			})
			out.Columns[idx].Category = schema.CategoryTemporal
		}
	}
	for _, col := range p.Numeric {
		if idx := out.Index(col); idx >= 0 {
			out.Columns[idx].Category = coerceNumeric(out, idx)
		}
	}
	for _, cols := range [][]string{p.Categorical, p.Text} {
		for _, col := range cols {
			if idx := out.Index(col); idx >= 0 {
				mapColumn(out, idx, func(v any) any { return schema.AsString(v) })
				out.Columns[idx].Category = schema.CategoryText
			}
		}
	}
	return out, nil
}

func coerceNumeric(ds *dataset.Dataset, idx int) schema.Category {
	allInt := true
	mapColumn(ds, idx, func(v any) any {
		if b, ok := v.(bool); ok {
			if b {
				return int64(1)
			}
			return int64(0)
		}
		f, ok := schema.AsFloat(v)
		if !ok {
			return nil
		}
		if _, isFloat := v.(float64); isFloat || f != math.Trunc(f) || strings.ContainsAny(schema.AsString(v), ".eE") {
			allInt = false
		}
		return f
	})
	if !allInt {
		return schema.CategoryFloat
	}
	mapColumn(ds, idx, func(v any) any {
		i, _ := schema.AsInt(v)
		return i
	})
	return schema.CategoryInteger
}

// mapColumn применяет fn к непустым значениям колонки на месте
func mapColumn(ds *dataset.Dataset, idx int, fn func(v any) any) {
	for _, row := range ds.Rows {
		if row[idx] != nil {
			row[idx] = fn(row[idx])
		}
	}
}

// ClipOutliers ограничивает значения числовых колонок границами
// [Q1 - 1.5*IQR, Q3 + 1.5*IQR]
type ClipOutliers struct {
	Columns []string
	logger  zerolog.Logger
}

func (p *ClipOutliers) Name() string { return "clip_outliers" }

func (p *ClipOutliers) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	for _, col := range p.Columns {
		idx := out.Index(col)
		if idx < 0 {
			continue
		}
		nums := numbers(out.ColumnValues(idx))
		if len(nums) < 4 {
			continue
		}
		sort.Float64s(nums)
		q1, q3 := quantile(nums, 0.25), quantile(nums, 0.75)
		iqr := q3 - q1
		lower, upper := q1-1.5*iqr, q3+1.5*iqr

		clipped := 0
		for _, row := range out.Rows {
			f, ok := schema.AsFloat(row[idx])
			if !ok || !schema.IsNumeric(row[idx]) {
				continue
			}
			switch {
			case f < lower:
				row[idx] = clipValue(row[idx], lower)
				clipped++
			case f > upper:
				row[idx] = clipValue(row[idx], upper)
				clipped++
			}
		}
		if clipped > 0 {
			p.logger.Debug().Str("column", col).Int("clipped", clipped).
				Float64("lower", lower).Float64("upper", upper).Msg("outliers clipped")
		}
	}
	return out, nil
}

// clipValue сохраняет целый тип, если граница целая
func clipValue(orig any, bound float64) any {
	if _, ok := orig.(int64); ok && bound == math.Trunc(bound) {
		return int64(bound)
	}
	return bound
}

// quantile - квантиль с линейной интерполяцией по отсортированной выборке
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// ParamsAsColumns добавляет параметры интерфейса из метаданных как колонки
// <Prefix><имя> с одинаковым значением во всех строках. Существующие
// колонки не перезаписываются.
type ParamsAsColumns struct {
	Prefix string
}

func (p *ParamsAsColumns) Name() string { return "params_as_columns" }

func (p *ParamsAsColumns) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	params := meta.Params()
	out := ds.Clone()
	for _, name := range sortedKeys(params) {
		col := p.Prefix + name
		if out.HasColumn(col) {
			continue
		}
		v := params[name]
		out = out.WithColumn(col, schema.Classify([]any{v}), func(int) any { return v })
	}
	return out, nil
}

// Categorize назначает колонкам итоговые категории: явно заданные для
// дат, чисел и текста, для остальных - по значениям
type Categorize struct {
	Date    []string
	Numeric []string
	Text    []string
}

func (p *Categorize) Name() string { return "categorize" }

func (p *Categorize) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	fixed := make(map[string]schema.Category)
	for _, c := range p.Date {
		fixed[c] = schema.CategoryTemporal
	}
	for _, c := range p.Text {
		fixed[c] = schema.CategoryText
	}
	for i, c := range out.Columns {
		if cat, ok := fixed[c.Name]; ok {
			out.Columns[i].Category = cat
			continue
		}
		if contains(p.Numeric, c.Name) && c.Category != "" {
			continue // уже определено приведением типов
		}
		out.Columns[i].Category = schema.Classify(out.ColumnValues(i))
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Passthrough возвращает копию набора, назначая категории колонкам без них
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	out := ds.Clone()
	for i, c := range out.Columns {
		if c.Category == "" {
			out.Columns[i].Category = schema.Classify(out.ColumnValues(i))
		}
	}
	return out, nil
}

func (p Passthrough) Clean(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	return p.Process(ctx, ds, meta)
}
