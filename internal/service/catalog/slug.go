package catalog

import (
	"strings"
	"unicode"
)

const (
	fallbackSlug = "product"
	maxSlugLen   = 80
)

// Slugify приводит название к виду URL: строчные буквы и цифры, остальное схлопывается в '-'.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(truncateRunes(slug, maxSlugLen), "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// truncateRunes обрезает строку до limit байт, не разрывая руну.
func truncateRunes(s string, limit int) string {
	last := 0
	for i := range s {
		if i > limit {
			break
		}
		last = i
	}
	if len(s) <= limit {
		return s
	}
	return s[:last]
}
