package model

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// CollectionName derives the default collection for a model name:
// "BlogPost" becomes "blog_posts".
func CollectionName(model string) string {
	return inflection.Plural(toSnake(model))
}

// toSnake converts a Go identifier to snake_case. Punctuation found in
// reflected names (generic brackets, package dots) collapses to a single
// underscore.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	underscore := func() {
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			underscore()
		}
	}

	return strings.Trim(b.String(), "_")
}
