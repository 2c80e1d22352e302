package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/ruslano69/datasync/pkg/core/schema"
)

// ValueFunc преобразует одно непустое значение колонки
type ValueFunc func(v any) (any, error)

var (
	valuesMu sync.RWMutex
	values   = map[string]ValueFunc{
		"upper":     func(v any) (any, error) { return strings.ToUpper(schema.AsString(v)), nil },
		"lower":     func(v any) (any, error) { return strings.ToLower(schema.AsString(v)), nil },
		"trim":      func(v any) (any, error) { return strings.TrimSpace(schema.AsString(v)), nil },
		"to_string": func(v any) (any, error) { return schema.AsString(v), nil },
		"to_float":  toFloat,
		"to_int":    toInt,
		"date":      toDate,
		"abs": func(v any) (any, error) {
			if i, ok := v.(int64); ok {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return math.Abs(f.(float64)), nil
		},
		"round2": func(v any) (any, error) {
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			return math.Round(f.(float64)*100) / 100, nil
		},
	}
)

func toFloat(v any) (any, error) {
	f, ok := schema.AsFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot convert %v to float", v)
	}
	return f, nil
}

func toInt(v any) (any, error) {
	if i, ok := schema.AsInt(v); ok {
		return i, nil
	}
	// дробные значения отбрасывают дробную часть
	if f, ok := schema.AsFloat(v); ok && math.Abs(f) < 1<<63 {
		return int64(f), nil
	}
	return nil, fmt.Errorf("cannot convert %v to integer", v)
}

func toDate(v any) (any, error) {
	t, ok := schema.AsTime(v)
	if !ok {
		return nil, fmt.Errorf("cannot parse %v as date", v)
	}
	return t.Format("2006-01-02"), nil
}

// RegisterValue регистрирует преобразователь значений под именем
func RegisterValue(name string, fn ValueFunc) {
	valuesMu.Lock()
	defer valuesMu.Unlock()
	values[name] = fn
}

// LookupValue возвращает преобразователь по имени
func LookupValue(name string) (ValueFunc, bool) {
	valuesMu.RLock()
	defer valuesMu.RUnlock()
	fn, ok := values[name]
	return fn, ok
}

// ValueNames возвращает отсортированные имена зарегистрированных преобразователей
func ValueNames() []string {
	valuesMu.RLock()
	defer valuesMu.RUnlock()
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
