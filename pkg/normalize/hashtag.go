package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TagRef pairs a canonical key with the spelling the author actually typed.
type TagRef struct {
	Key     string
	Display string
}

const (
	// MaxTagLen bounds a tag key in runes. Longer candidates are dropped,
	// not truncated, so a key never aliases a different spelling.
	MaxTagLen = 64
)

// Letters, digits, marks, underscore and pictographs, with ZWJ so composed
// emoji stay whole. Cases the character classes miss fail closed (no tag).
var hashtagRE = regexp.MustCompile(`#([\p{L}\p{M}\p{N}_\p{So}\x{200D}\x{FE0F}]+)`)

// NormalizeTag derives the canonical key for a tag spelling: Normalize
// plus leading-# removal and the length gate. Returns "" when the input
// does not yield a usable key.
func NormalizeTag(raw string) string {
	s := Normalize(raw)
	s = strings.Trim(s, "# ")
	if n := utf8.RuneCountInString(s); n < 1 || n > MaxTagLen {
		return ""
	}
	return s
}

// ExtractHashtags scans text for #tags, deduplicating by normalized key.
// The first spelling observed for a key is kept as its display form.
func ExtractHashtags(text string) []TagRef {
	if text == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []TagRef
	for _, m := range hashtagRE.FindAllStringSubmatch(text, -1) {
		display := m[1]
		key := NormalizeTag(display)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, TagRef{Key: key, Display: display})
	}
	return out
}
