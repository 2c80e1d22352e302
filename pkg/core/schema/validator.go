package schema

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxIdentifierLength - ограничение MySQL/MS SQL в символах
const maxIdentifierLength = 64

// ValidateIdentifier проверяет имя таблицы или колонки перед подстановкой в SQL.
// Имена экранируются диалектом, поэтому допускаются пробелы, скобки и
// национальные алфавиты; запрещены кавычки, ';' и управляющие символы.
func ValidateIdentifier(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("identifier is empty")
	}
	if utf8.RuneCountInString(name) > maxIdentifierLength {
		return fmt.Errorf("identifier %q is longer than %d characters", name, maxIdentifierLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) || strings.ContainsRune("\"`[];", r) {
			return fmt.Errorf("identifier %q contains unsupported character %q", name, r)
		}
	}
	return nil
}

// ValidateTable проверяет описание таблицы перед созданием
func ValidateTable(t Table) error {
	if err := ValidateIdentifier(t.Name); err != nil {
		return fmt.Errorf("table name: %w", err)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for i, c := range t.Columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("duplicate column name: %s", c.Name)
		}
		seen[key] = true

		if c.Type.Type == TypeDecimal && c.Type.Precision > 0 && c.Type.Scale > c.Type.Precision {
			return fmt.Errorf("column %s: scale (%d) exceeds precision (%d)",
				c.Name, c.Type.Scale, c.Type.Precision)
		}
	}

	for _, uk := range t.UniqueKeys {
		for _, col := range uk {
			if !seen[strings.ToLower(col)] {
				return fmt.Errorf("unique key references unknown column: %s", col)
			}
		}
	}
	return nil
}
