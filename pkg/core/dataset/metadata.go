package dataset

import "sort"

// Стандартные ключи метаданных
const (
	KeySource              = "source"
	KeyInterface           = "interface"
	KeyInterfaceParams     = "interface_params"
	KeyFetchTime           = "fetch_time"
	KeyRowCount            = "row_count"
	KeyTableName           = "table_name"
	KeyRowCountTransformed = "row_count_after_transform"
	KeyTransformTime       = "transform_time"
	KeyTransformSkipped    = "transform_skipped"
	KeyFingerprint         = "fingerprint"
)

// Metadata - описательные поля набора данных.
// Накапливается монотонно: стадии добавляют поля, но не удаляют ранее установленные.
type Metadata map[string]any

// Clone возвращает поверхностную копию
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With возвращает копию с добавленным полем
func (m Metadata) With(key string, value any) Metadata {
	out := m.Clone()
	out[key] = value
	return out
}

// Merge возвращает копию, дополненную полями other.
// Значения other перекрывают существующие, но ни одно поле не удаляется.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String возвращает строковое поле или пустую строку
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Params возвращает параметры интерфейса
func (m Metadata) Params() map[string]any {
	if p, ok := m[KeyInterfaceParams].(map[string]any); ok {
		return p
	}
	return nil
}

// Keys возвращает отсортированный список ключей
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
