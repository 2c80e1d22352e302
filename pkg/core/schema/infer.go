package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Пороговые значения инференса
const (
	decimalMagnitudeThreshold = 1e10
	decimalFractionThreshold  = 6
	minVarcharLength          = 50
)

// FallbackType - тип, используемый при любой ошибке инференса
var FallbackType = ColumnType{Type: TypeVarchar, Length: DefaultVarcharLength}

// InferColumnType выводит самый узкий безопасный тип хранения для колонки.
// values - выборка значений (nil пропускаются), cat - категория колонки.
// Инференс носит рекомендательный характер: любая ошибка дает VARCHAR(255).
func InferColumnType(values []any, cat Category) (ct ColumnType) {
	defer func() {
		if r := recover(); r != nil {
			ct = FallbackType
		}
	}()

	var err error
	switch cat {
	case CategoryInteger:
		ct = inferInteger(values)
	case CategoryFloat:
		ct, err = inferFloat(values)
	case CategoryText:
		ct = inferText(values)
	case CategoryTemporal:
		ct = inferTemporal(values)
	case CategoryBoolean:
		ct = ColumnType{Type: TypeBoolean}
	default:
		err = fmt.Errorf("unknown category %q", cat)
	}
	if err != nil {
		return FallbackType
	}
	return ct
}

// inferInteger: INTEGER если [min,max] помещается в int32, иначе BIGINT
func inferInteger(values []any) ColumnType {
	var (
		min, max int64
		found    bool
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		i, ok := AsInt(v)
		if !ok {
			// диапазон не определить - берем широкий тип
			return ColumnType{Type: TypeBigInt}
		}
		if !found || i < min {
			min = i
		}
		if !found || i > max {
			max = i
		}
		found = true
	}
	if !found {
		return ColumnType{Type: TypeBigInt}
	}
	if min >= math.MinInt32 && max <= math.MaxInt32 {
		return ColumnType{Type: TypeInteger}
	}
	return ColumnType{Type: TypeBigInt}
}

// inferFloat: DECIMAL при больших значениях или высокой точности, иначе DOUBLE
func inferFloat(values []any) (ColumnType, error) {
	var (
		maxAbs    float64
		fracMax   int
		intDigits int
		found     bool
	)
	for _, v := range values {
		if v == nil {
			continue
		}
		f, ok := AsFloat(v)
		if !ok {
			return ColumnType{}, fmt.Errorf("non-numeric value %v", v)
		}
		found = true
		if a := math.Abs(f); a > maxAbs {
			maxAbs = a
		}
		if d := fractionDigits(f); d > fracMax {
			fracMax = d
		}
	}
	if !found {
		return ColumnType{Type: TypeDouble}, nil
	}

	if maxAbs <= decimalMagnitudeThreshold && fracMax <= decimalFractionThreshold {
		return ColumnType{Type: TypeDouble}, nil
	}

	intDigits = len(strconv.FormatFloat(math.Trunc(maxAbs), 'f', 0, 64))
	precision := intDigits + fracMax
	if precision > MaxDecimalPrecision {
		precision = MaxDecimalPrecision
	}
	scale := fracMax
	if scale > MaxDecimalScale {
		scale = MaxDecimalScale
	}
	if scale >= precision {
		scale = precision - 1
	}
	return ColumnType{Type: TypeDecimal, Precision: precision, Scale: scale}, nil
}

// fractionDigits считает количество знаков после точки в кратчайшем текстовом представлении
func fractionDigits(f float64) int {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// inferText: VARCHAR(min(max(2*len,50),255)) до 255 байт, TEXT сверх этого
func inferText(values []any) ColumnType {
	maxLen := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		if l := len(AsString(v)); l > maxLen {
			maxLen = l
		}
	}
	if maxLen > DefaultVarcharLength {
		return ColumnType{Type: TypeText}
	}
	length := 2 * maxLen
	if length < minVarcharLength {
		length = minVarcharLength
	}
	if length > DefaultVarcharLength {
		length = DefaultVarcharLength
	}
	return ColumnType{Type: TypeVarchar, Length: length}
}

// inferTemporal: временные колонки всегда хранятся как TIMESTAMP
func inferTemporal(values []any) ColumnType {
	return ColumnType{Type: TypeTimestamp}
}
