package crawler

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var invalidSlugChars = regexp.MustCompile(`[^a-z0-9_-]+`)

func containsLower(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Slug turns a site name into a filesystem-safe identifier. Accents are folded
// ("Hermès" becomes "hermes") and every other rune outside [a-z0-9_-] collapses to "_".
func Slug(name string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		folded = name
	}
	slug := invalidSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(folded)), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "site"
	}
	return slug
}
