// Package security проверяет запросы источников перед выполнением.
package security

import (
	"strings"
	"unicode"

	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// forbidden - слова, недопустимые в запросе источника
var forbidden = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true, "MERGE": true, "REPLACE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "RENAME": true,
	"GRANT": true, "REVOKE": true,
	"EXEC": true, "EXECUTE": true, "CALL": true,
	"PRAGMA": true, "ATTACH": true, "DETACH": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
	"INTO": true, // SELECT ... INTO создает таблицу
}

// ValidateReadOnly проверяет, что запрос только читает данные:
// один оператор SELECT или WITH, без комментариев и изменяющих слов.
// Строковые литералы и идентификаторы в кавычках не проверяются.
func ValidateReadOnly(query string) error {
	const op = "security.query"

	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return syncerr.Configf(op, "empty query")
	}

	bare := stripQuoted(q)
	if strings.Contains(bare, "--") || strings.Contains(bare, "/*") {
		return syncerr.Configf(op, "comments are not allowed in source queries")
	}
	if strings.Contains(bare, ";") {
		return syncerr.Configf(op, "multiple statements are not allowed")
	}

	words := strings.FieldsFunc(strings.ToUpper(bare), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if len(words) == 0 || (words[0] != "SELECT" && words[0] != "WITH") {
		first := ""
		if len(words) > 0 {
			first = words[0]
		}
		return syncerr.Configf(op, "only SELECT and WITH queries are allowed, got %q", first)
	}
	for _, w := range words {
		if forbidden[w] {
			return syncerr.Configf(op, "forbidden keyword %s in source query", w)
		}
	}
	return nil
}

// stripQuoted заменяет содержимое '...', "..." и [...] пробелами
func stripQuoted(s string) string {
	var (
		sb      strings.Builder
		closing rune
	)
	for _, r := range s {
		switch {
		case closing != 0:
			if r == closing {
				closing = 0
				sb.WriteRune(r)
			} else {
				sb.WriteByte(' ')
			}
		case r == '\'' || r == '"':
			closing = r
			sb.WriteRune(r)
		case r == '[':
			closing = ']'
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
