package embedtext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var stopTerms = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "shall": {}, "have": {},
	"under": {}, "upon": {}, "such": {}, "which": {}, "being": {}, "into": {},
	"որը": {}, "որոնք": {}, "համար": {}, "կողմից": {}, "հետ": {}, "մասին": {},
	"միջև": {}, "կամ": {}, "նաև": {}, "որպես": {}, "այդ": {}, "այս": {},
}

// TopTerms returns up to n keyword-like terms from text, most frequent first,
// ties broken alphabetically for determinism.
func TopTerms(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		term := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(term)) < 4 {
			continue
		}
		if _, ok := stopTerms[term]; ok {
			continue
		}
		if isNumeric(term) {
			continue
		}
		counts[term]++
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Norm reference patterns: Armenian "հոդված N" / "N հոդված" and English
// "article N", optionally with a decimal part ("հոդված 17.2").
var normPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)հոդված[իը]?\s*\d+(?:\.\d+)*`),
	regexp.MustCompile(`(?i)\d+(?:\.\d+)*(?:-րդ)?\s*հոդված[իը]?`),
	regexp.MustCompile(`(?i)article\s+\d+(?:\.\d+)*`),
}

// ExtractNorms scans body text for normalized law+article references,
// de-duplicated in order of first appearance, capped at max.
func ExtractNorms(text string, max int) []string {
	if max <= 0 {
		return nil
	}
	type hit struct {
		pos  int
		norm string
	}
	seen := make(map[string]struct{})
	hits := make([]hit, 0, max)
	for _, re := range normPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			norm := normalizeNorm(text[loc[0]:loc[1]])
			if _, ok := seen[norm]; ok {
				continue
			}
			seen[norm] = struct{}{}
			hits = append(hits, hit{pos: loc[0], norm: norm})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	if len(hits) > max {
		hits = hits[:max]
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.norm)
	}
	return out
}

func normalizeNorm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func isNumeric(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
