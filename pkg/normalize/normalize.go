// Package normalize is the text core: it folds mixed-script Japanese input
// into canonical form and derives the prefix and n-gram sets the index
// matches against. Every function here is total and deterministic.
package normalize

import (
	"strings"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds s into its canonical query/key form:
// NFKC compatibility folding, variation-selector removal, long-vowel
// collapse, whitespace trim/collapse, and ASCII-only lowercasing.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = stripVariationSelectors(s)
	s = collapseLongVowels(s)
	s = collapseSpaces(s)
	return lowerASCII(s)
}

// ToYomi remaps the katakana block U+30A1..U+30F6 onto its hiragana
// counterpart. Characters outside the block pass through untouched, so
// the call is a no-op on text containing no katakana.
func ToYomi(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x30A1 && r <= 0x30F6 {
			r -= 0x60
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Prefixes returns every leading substring of s from one grapheme up to
// maxLen graphemes. Multi-codepoint glyphs (emoji with joiners, flags)
// are never split.
func Prefixes(s string, maxLen int) []string {
	if s == "" || maxLen < 1 {
		return nil
	}
	var out []string
	g := uniseg.NewGraphemes(s)
	var b strings.Builder
	for g.Next() {
		b.WriteString(g.Str())
		out = append(out, b.String())
		if len(out) >= maxLen {
			break
		}
	}
	return out
}

// Ngrams returns the deduplicated contiguous grapheme substrings of s for
// every length in [minN, maxN], in first-occurrence order.
func Ngrams(s string, minN, maxN int) []string {
	if s == "" || minN < 1 || maxN < minN {
		return nil
	}
	clusters := graphemes(s)
	seen := make(map[string]struct{})
	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(clusters); i++ {
			gram := strings.Join(clusters[i:i+n], "")
			if _, dup := seen[gram]; dup {
				continue
			}
			seen[gram] = struct{}{}
			out = append(out, gram)
		}
	}
	return out
}

func graphemes(s string) []string {
	var out []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}

// U+FE0E/U+FE0F select text vs emoji presentation and must not
// distinguish keys.
func stripVariationSelectors(s string) string {
	if !strings.ContainsAny(s, "︎️") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0xFE0E || r == 0xFE0F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collapseLongVowels squeezes runs of the long-sound mark into one.
func collapseLongVowels(s string) string {
	const mark = 'ー'
	if !strings.ContainsRune(s, mark) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		if r == mark && prev == mark {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " ")
}

// lowerASCII folds A-Z only; non-ASCII scripts carry no case here.
func lowerASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
