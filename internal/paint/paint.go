// Package paint scores page text for evidence of a paint-scheme page.
package paint

import (
	"regexp"
	"sort"
	"strings"
)

// codePatterns match manufacturer paint and color standard codes:
// RLM, FS 595, Tamiya XF/X, Gunze Aqueous (H) and Mr. Color (C), RAL.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)RLM ?\d+`),
	regexp.MustCompile(`(?i)FS ?\d+`),
	regexp.MustCompile(`(?i)XF-\d\d?`),
	regexp.MustCompile(`(?i)X-\d\d?`),
	regexp.MustCompile(`(?i)H-\d\d\d?`),
	regexp.MustCompile(`(?i)C-\d\d\d?`),
	regexp.MustCompile(`(?i)RAL ?\d+`),
}

// keywords are paint-guide vocabulary. Each contributes at most 1 to the
// score no matter how often it occurs.
var keywords = []string{
	"paint",
	"color",
	"scheme",
	"camouflage",
	"marking",
	"decal",
	"decals",
	"stencil",
	"regiment",
	"division",
	"unknown",
	"rgt",
	"div",
}

// Score summarizes the paint-scheme evidence found in a page's text.
type Score struct {
	Codes        []string // normalized paint codes, sorted, without duplicates
	KeywordCount int
	Value        int // len(Codes) + KeywordCount
}

// FindCodes returns the distinct paint codes present in text, normalized to
// uppercase with single internal spaces.
func FindCodes(text string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range codePatterns {
		for _, m := range pattern.FindAllString(text, -1) {
			code := strings.Join(strings.Fields(strings.ToUpper(m)), " ")
			seen[code] = struct{}{}
		}
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// CountKeywords counts how many of the known keywords occur in text at
// least once (case-insensitive substring match).
func CountKeywords(text string) int {
	lower := strings.ToLower(text)
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

// ScoreText scores text as a paint-scheme page. Empty or unrelated text
// scores 0; there are no failure modes.
func ScoreText(text string) Score {
	codes := FindCodes(text)
	kwCount := CountKeywords(text)
	return Score{
		Codes:        codes,
		KeywordCount: kwCount,
		Value:        len(codes) + kwCount,
	}
}
