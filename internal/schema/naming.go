package schema

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableName derives the storage collection name for a list key:
// "BlogPost" -> "blog_posts".
func TableName(listKey string) string {
	return inflection.Plural(snakeCase(listKey))
}

// Singular returns the singular form of a list key, used by the API layer
// for per-item field names.
func Singular(listKey string) string {
	return inflection.Singular(listKey)
}

func snakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
