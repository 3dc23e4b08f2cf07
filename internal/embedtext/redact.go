package embedtext

import (
	"regexp"
	"strings"
)

// Redaction regexes, applied in order. Address matching is anchored on a
// leading four-digit postal code so ordinary numbers are not swallowed.
var (
	reEmail    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	rePhone    = regexp.MustCompile(`\+?\d[\d\-\s()]{7,}\d`)
	rePassport = regexp.MustCompile(`\b[A-Z]{2}\d{7}\b`)
	reIDNumber = regexp.MustCompile(`\b\d{10}\b`)
	reAddress  = regexp.MustCompile(`\b\d{4},\s*[^\n.;]{5,80}`)

	// ISO adoption/decision dates look phone-shaped to rePhone and must
	// survive redaction intact.
	reISODate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

type redactionRule struct {
	re          *regexp.Regexp
	placeholder string
	// preserve, when set, keeps a candidate that the pattern matched.
	preserve func(s string, start, end int) bool
}

// ID rules run before the phone rule so a bare ten-digit identifier is
// labeled [ID] rather than swallowed as a phone number.
var redactionRules = []redactionRule{
	{re: reEmail, placeholder: "[EMAIL]"},
	{re: rePassport, placeholder: "[ID]"},
	{re: reIDNumber, placeholder: "[ID]"},
	{re: rePhone, placeholder: "[PHONE]", preserve: overlapsISODate},
	{re: reAddress, placeholder: "[ADDRESS]"},
}

// overlapsISODate reports whether the candidate shares any byte with a
// yyyy-mm-dd date in the surrounding text.
func overlapsISODate(s string, start, end int) bool {
	lo := start - 10
	if lo < 0 {
		lo = 0
	}
	hi := end + 10
	if hi > len(s) {
		hi = len(s)
	}
	for _, loc := range reISODate.FindAllStringIndex(s[lo:hi], -1) {
		if lo+loc[0] < end && lo+loc[1] > start {
			return true
		}
	}
	return false
}

// Institution names whose fragments must never be redacted even when a short
// candidate happens to match a PII pattern.
var institutionWhitelist = []string{
	"ՀՀ վճռաբեկ դատարան",
	"ՀՀ սահմանադրական դատարան",
	"Մարդու իրավունքների եվրոպական դատարան",
	"Court of Cassation",
	"Constitutional Court",
	"European Court of Human Rights",
}

const whitelistGuardRunes = 6

// Redact replaces phone numbers, emails, id/passport patterns and
// postal-code-prefixed addresses with fixed placeholders. Candidates shorter
// than six characters that sit inside a known legal-institution name are
// preserved.
func Redact(s string) string {
	for _, rule := range redactionRules {
		s = applyRule(s, rule)
	}
	return s
}

func replaceGuarded(s string, re *regexp.Regexp, placeholder string) string {
	return applyRule(s, redactionRule{re: re, placeholder: placeholder})
}

func applyRule(s string, rule redactionRule) string {
	locs := rule.re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prev := 0
	for _, loc := range locs {
		match := s[loc[0]:loc[1]]
		if preservedByWhitelist(s, loc[0], loc[1], match) {
			continue
		}
		if rule.preserve != nil && rule.preserve(s, loc[0], loc[1]) {
			continue
		}
		b.WriteString(s[prev:loc[0]])
		b.WriteString(rule.placeholder)
		prev = loc[1]
	}
	b.WriteString(s[prev:])
	return b.String()
}

// preservedByWhitelist keeps short candidates alone when the text surrounding
// them matches a whitelisted institution name.
func preservedByWhitelist(s string, start, end int, match string) bool {
	if len([]rune(match)) >= whitelistGuardRunes {
		return false
	}
	lo := start - 60
	if lo < 0 {
		lo = 0
	}
	hi := end + 60
	if hi > len(s) {
		hi = len(s)
	}
	window := s[lo:hi]
	for _, inst := range institutionWhitelist {
		if strings.Contains(window, inst) && strings.Contains(inst, strings.TrimSpace(match)) {
			return true
		}
	}
	return false
}
