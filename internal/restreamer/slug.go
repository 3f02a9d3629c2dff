package restreamer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify reduces a display name to a filesystem-safe lowercase token:
// diacritics stripped, runs of non-alphanumerics folded into single
// underscores. An empty result falls back to "recording".
func Slugify(name string) string {
	flattened, _, err := transform.String(deaccent, name)
	if err != nil {
		flattened = name
	}

	var sb strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(flattened) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			sb.WriteRune('_')
			lastUnderscore = true
		}
	}

	slug := strings.Trim(sb.String(), "_")
	if slug == "" {
		return "recording"
	}
	return slug
}
