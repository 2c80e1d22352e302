package processors

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/schema"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// ValidationRule определяет тип правила валидации
type ValidationRule string

const (
	// ValidateRegex - валидация по регулярному выражению
	ValidateRegex ValidationRule = "regex"
	// ValidateRange - валидация числового диапазона (min..max)
	ValidateRange ValidationRule = "range"
	// ValidateEnum - валидация по списку допустимых значений
	ValidateEnum ValidationRule = "enum"
	// ValidateRequired - проверка обязательности поля (не пустое)
	ValidateRequired ValidationRule = "required"
	// ValidateLength - валидация длины строки в символах (min-max)
	ValidateLength ValidationRule = "length"
	// ValidateEmail - валидация email адреса
	ValidateEmail ValidationRule = "email"
	// ValidateDate - значение приводится к дате
	ValidateDate ValidationRule = "date"
)

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	rangeRe = regexp.MustCompile(`^\s*(-?[\d.]+)\s*(?:\.\.|-)\s*(-?[\d.]+)\s*$`)
)

// maxValidationErrors - сколько нарушений попадает в текст ошибки
const maxValidationErrors = 10

// FieldValidationRule содержит правило валидации для поля
type FieldValidationRule struct {
	Type   ValidationRule
	Param  string // regex, диапазон, список значений
	ErrMsg string // сообщение вместо стандартного
	re     *regexp.Regexp
}

// FieldValidator проверяет значения колонок.
// Без DropInvalid любое нарушение прерывает очистку с KindProcessing,
// с DropInvalid строки с нарушениями удаляются из набора.
type FieldValidator struct {
	fields      map[string][]FieldValidationRule
	dropInvalid bool
}

// NewFieldValidator создает новый валидатор полей
func NewFieldValidator(fields map[string][]FieldValidationRule, dropInvalid bool) (*FieldValidator, error) {
	for name, rules := range fields {
		for i := range rules {
			if rules[i].Type != ValidateRegex {
				continue
			}
			re, err := regexp.Compile(rules[i].Param)
			if err != nil {
				return nil, fmt.Errorf("invalid regex pattern '%s' for field '%s': %w", rules[i].Param, name, err)
			}
			rules[i].re = re
		}
	}
	return &FieldValidator{fields: fields, dropInvalid: dropInvalid}, nil
}

// Name возвращает имя процессора
func (v *FieldValidator) Name() string {
	return "field_validator"
}

// Process проверяет строки набора
func (v *FieldValidator) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	var (
		violations []string
		keep       []int
		count      int
	)
	for r, row := range ds.Rows {
		valid := true
		for _, col := range sortedKeys(v.fields) {
			idx := ds.Index(col)
			if idx < 0 {
				continue
			}
			for _, rule := range v.fields[col] {
				err := validateValue(row[idx], rule)
				if err == nil {
					continue
				}
				valid = false
				count++
				if len(violations) < maxValidationErrors {
					msg := err.Error()
					if rule.ErrMsg != "" {
						msg = rule.ErrMsg
					}
					violations = append(violations, fmt.Sprintf("row %d, field '%s': %s", r+1, col, msg))
				}
			}
		}
		if valid {
			keep = append(keep, r)
		}
	}

	if count == 0 {
		return ds.Clone(), nil
	}
	if v.dropInvalid {
		return ds.Select(keep), nil
	}
	return nil, syncerr.Processingf("processors.validate", "validation failed with %d errors:\n- %s",
		count, strings.Join(violations, "\n- "))
}

// validateValue применяет правило к значению. nil проверяет только required.
func validateValue(value any, rule FieldValidationRule) error {
	if rule.Type == ValidateRequired {
		if value == nil || strings.TrimSpace(schema.AsString(value)) == "" {
			return fmt.Errorf("field is required but empty")
		}
		return nil
	}
	if value == nil {
		return nil
	}
	s := schema.AsString(value)

	switch rule.Type {
	case ValidateRegex:
		if !rule.re.MatchString(s) {
			return fmt.Errorf("value '%s' does not match pattern '%s'", s, rule.Param)
		}
	case ValidateRange:
		lo, hi, err := parseRange(rule.Param)
		if err != nil {
			return err
		}
		f, ok := schema.AsFloat(value)
		if !ok {
			return fmt.Errorf("value '%s' is not a valid number", s)
		}
		if f < lo || f > hi {
			return fmt.Errorf("value %g is out of range [%g, %g]", f, lo, hi)
		}
	case ValidateEnum:
		for _, allowed := range strings.Split(rule.Param, ",") {
			if strings.TrimSpace(allowed) == s {
				return nil
			}
		}
		return fmt.Errorf("value '%s' is not in allowed list [%s]", s, rule.Param)
	case ValidateLength:
		lo, hi, err := parseRange(rule.Param)
		if err != nil {
			return err
		}
		n := float64(len([]rune(s)))
		if n < lo || n > hi {
			return fmt.Errorf("length %d is out of range [%g, %g]", int(n), lo, hi)
		}
	case ValidateEmail:
		if !emailRe.MatchString(s) {
			return fmt.Errorf("invalid email format: '%s'", s)
		}
	case ValidateDate:
		if _, ok := schema.AsTime(value); !ok {
			return fmt.Errorf("invalid date: '%s'", s)
		}
	default:
		return fmt.Errorf("unknown validation rule: %s", rule.Type)
	}
	return nil
}

// parseRange разбирает "min-max" или "min..max"
func parseRange(param string) (float64, float64, error) {
	m := rangeRe.FindStringSubmatch(param)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid range format '%s', expected 'min-max'", param)
	}
	lo, err1 := strconv.ParseFloat(m[1], 64)
	hi, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid range '%s'", param)
	}
	return lo, hi, nil
}

// NewFieldValidatorFromConfig создает FieldValidator из параметров
//
//	params:
//	  drop_invalid: true
//	  rules:
//	    age: "range:18-65"
//	    email: [required, email]
//	    status: {type: "enum:active,inactive", error: "unknown status"}
func NewFieldValidatorFromConfig(params map[string]any) (*FieldValidator, error) {
	rules, ok := params["rules"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'rules' parameter")
	}
	dropInvalid, err := boolParam(params, "drop_invalid", false)
	if err != nil {
		return nil, err
	}

	fields := make(map[string][]FieldValidationRule, len(rules))
	for name, rc := range rules {
		var fieldRules []FieldValidationRule
		switch r := rc.(type) {
		case string:
			rule, err := parseValidationRule(r)
			if err != nil {
				return nil, fmt.Errorf("invalid rule for field '%s': %w", name, err)
			}
			fieldRules = append(fieldRules, rule)
		case []any:
			for _, item := range r {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("invalid rule format for field '%s'", name)
				}
				rule, err := parseValidationRule(s)
				if err != nil {
					return nil, fmt.Errorf("invalid rule for field '%s': %w", name, err)
				}
				fieldRules = append(fieldRules, rule)
			}
		case map[string]any:
			typ, _ := r["type"].(string)
			rule, err := parseValidationRule(typ)
			if err != nil {
				return nil, fmt.Errorf("invalid rule for field '%s': %w", name, err)
			}
			rule.ErrMsg, _ = r["error"].(string)
			fieldRules = append(fieldRules, rule)
		default:
			return nil, fmt.Errorf("unsupported rule format for field '%s'", name)
		}
		fields[name] = fieldRules
	}
	return NewFieldValidator(fields, dropInvalid)
}

// parseValidationRule разбирает правило "type:param"
func parseValidationRule(s string) (FieldValidationRule, error) {
	typ, param, _ := strings.Cut(s, ":")
	rule := FieldValidationRule{Type: ValidationRule(typ), Param: param}
	switch rule.Type {
	case ValidateRegex, ValidateRange, ValidateEnum, ValidateRequired,
		ValidateLength, ValidateEmail, ValidateDate:
		return rule, nil
	default:
		return FieldValidationRule{}, fmt.Errorf("unknown validation rule type: %q", typ)
	}
}
