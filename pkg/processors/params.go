package processors

import (
	"fmt"
	"sort"
)

// stringList читает список строк из параметров (YAML дает []any)
func stringList(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s[%d]: expected string, got %T", key, i, item)
			}
			out[i] = s
		}
		return out, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected list of strings, got %T", key, raw)
	}
}

// stringMap читает map строк из параметров
func stringMap(params map[string]any, key string) (map[string]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = fmt.Sprint(item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected mapping, got %T", key, raw)
	}
}

// boolParam читает bool с значением по умолчанию
func boolParam(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return def, fmt.Errorf("parameter %s: expected bool, got %T", key, raw)
	}
	return b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
