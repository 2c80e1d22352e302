package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValidationError ошибка приведения значения к категории колонки
type ValidationError struct {
	Column  string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for column '%s': %s (value: '%v')",
		e.Column, e.Message, e.Value)
}

// Поддерживаемые форматы даты/времени для разбора текстовых значений
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"20060102",
}

// AsFloat пытается привести значение к float64.
// bool числом не считается.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case []byte:
		return parseFloatString(string(x))
	case string:
		return parseFloatString(x)
	default:
		return 0, false
	}
}

func parseFloatString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsInt пытается привести значение к int64 без потери точности
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case string, []byte, json.Number:
		s := strings.TrimSpace(AsString(x))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		f, ok := parseFloatString(s)
		if ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), true
		}
		return 0, false
	case float32, float64:
		f, _ := AsFloat(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsBool приводит значение к bool
func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string, []byte:
		switch strings.ToLower(strings.TrimSpace(AsString(x))) {
		case "1", "true", "t", "yes", "y":
			return true, true
		case "0", "false", "f", "no", "n":
			return false, true
		}
		return false, false
	default:
		if i, ok := AsInt(x); ok && (i == 0 || i == 1) {
			return i == 1, true
		}
		return false, false
	}
}

// AsTime приводит значение к time.Time
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, true
	case string, []byte:
		s := strings.TrimSpace(AsString(x))
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// AsString возвращает каноническое текстовое представление значения.
// nil дает пустую строку, время форматируется в RFC3339Nano UTC.
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// IsNumeric - значение конвертируемо в число
func IsNumeric(v any) bool {
	if _, ok := v.(bool); ok {
		return false
	}
	_, ok := AsFloat(v)
	return ok
}

// Coerce приводит значение к категории колонки.
// nil остается nil, ошибка возвращается как ValidationError.
func Coerce(column string, v any, cat Category) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch cat {
	case CategoryInteger:
		if i, ok := AsInt(v); ok {
			return i, nil
		}
		return nil, &ValidationError{Column: column, Message: "invalid integer value", Value: v}
	case CategoryFloat:
		if f, ok := AsFloat(v); ok {
			return f, nil
		}
		return nil, &ValidationError{Column: column, Message: "invalid float value", Value: v}
	case CategoryBoolean:
		if b, ok := AsBool(v); ok {
			return b, nil
		}
		return nil, &ValidationError{Column: column, Message: "invalid boolean value", Value: v}
	case CategoryTemporal:
		if t, ok := AsTime(v); ok {
			return t, nil
		}
		return nil, &ValidationError{Column: column, Message: "invalid date/time value", Value: v}
	default:
		return AsString(v), nil
	}
}

// NormalizeDBValue приводит значение, прочитанное драйвером, к одному из
// int64, float64, string, bool, time.Time или nil.
func NormalizeDBValue(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, string, bool, time.Time:
		return x
	case []byte:
		return string(x)
	case int, int8, int16, int32, uint8, uint16, uint32:
		i, _ := AsInt(x)
		return i
	case uint, uint64:
		if i, ok := AsInt(x); ok {
			return i
		}
		f, _ := AsFloat(x)
		return f
	case float32:
		return float64(x)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

// Classify определяет категорию колонки по выборке значений.
// Пустая выборка считается текстом.
func Classify(values []any) Category {
	var (
		seen                             int
		allBool, allInt, allNum, allTime = true, true, true, true
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		seen++
		switch x := v.(type) {
		case bool:
			allInt, allNum, allTime = false, false, false
		case time.Time:
			allBool, allInt, allNum = false, false, false
		case float32, float64:
			// целое, записанное как float, остается float
			allBool, allInt, allTime = false, false, false
		case string, []byte:
			allBool = false
			s := AsString(x)
			if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
				allInt = false
			}
			if _, ok := parseFloatString(s); !ok {
				allNum = false
			}
			if _, ok := AsTime(s); !ok {
				allTime = false
			}
		default:
			allBool, allTime = false, false
			if _, ok := AsInt(x); !ok {
				allInt = false
			}
			if _, ok := AsFloat(x); !ok {
				allNum = false
			}
		}
	}

	switch {
	case seen == 0:
		return CategoryText
	case allBool:
		return CategoryBoolean
	case allInt:
		return CategoryInteger
	case allNum:
		return CategoryFloat
	case allTime:
		return CategoryTemporal
	default:
		return CategoryText
	}
}
