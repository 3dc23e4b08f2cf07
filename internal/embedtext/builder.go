// Package embedtext normalizes heterogeneous legal documents into a single
// redaction-safe text blob with a fixed section layout, optimized for
// embedding. Everything here is pure: missing fields degrade to omitted
// sections, never errors.
package embedtext

import (
	"strings"
	"unicode/utf8"

	"lexrag/internal/models"
)

const (
	maxTextRunes        = 9000
	maxTopics           = 15
	maxNorms            = 20
	maxHoldings         = 10
	maxHoldingRunes     = 300
	maxDispositiveRunes = 500
	scriptSampleRunes   = 2000
)

// Build produces the embedding text for a document: fixed header sections,
// structured legal metadata, then a type-specific TEXT section truncated at a
// sentence boundary. The result is PII-redacted.
func Build(doc models.LegalDocument) string {
	docType := InferDocType(doc.Category, doc.DocType)
	jurisdiction := InferJurisdiction(doc.CourtType, doc.Jurisdiction)
	lang := DetectScript(sample(doc.Title + "\n" + doc.ContentText))

	var b strings.Builder
	section(&b, "DOC_TYPE", docType)
	section(&b, "JURISDICTION", jurisdiction)
	section(&b, "LANG", lang)
	section(&b, "TITLE", strings.TrimSpace(doc.Title))
	section(&b, "CITATION", strings.TrimSpace(doc.CaseNumber))
	section(&b, "COURT_OR_BODY", strings.TrimSpace(doc.CourtType))
	section(&b, "DATE", firstNonEmpty(doc.DateDecision, doc.DateAdopted))

	if topics := TopTerms(doc.Title+" "+doc.ContentText, maxTopics); len(topics) > 0 {
		section(&b, "TOPICS", strings.Join(topics, "; "))
	}
	norms := doc.AppliedArticles
	if len(norms) == 0 {
		norms = ExtractNorms(doc.ContentText, maxNorms)
	}
	if len(norms) > maxNorms {
		norms = norms[:maxNorms]
	}
	if len(norms) > 0 {
		section(&b, "NORMS_CITED", strings.Join(norms, "; "))
	}
	if len(doc.Holdings) > 0 {
		b.WriteString("HOLDINGS:\n")
		holdings := doc.Holdings
		if len(holdings) > maxHoldings {
			holdings = holdings[:maxHoldings]
		}
		for _, h := range holdings {
			b.WriteString("- " + truncateRunes(strings.TrimSpace(h), maxHoldingRunes) + "\n")
		}
	}
	section(&b, "DISPOSITIVE", truncateRunes(strings.TrimSpace(doc.Dispositive), maxDispositiveRunes))

	text := buildTypedText(docType, doc)
	if text != "" {
		b.WriteString("TEXT:\n")
		b.WriteString(truncateAtSentence(text, maxTextRunes))
		b.WriteString("\n")
	}
	return Redact(strings.TrimSpace(b.String()))
}

// InferDocType maps free-form category/type fields onto the four embedding
// document types by substring matching against known vocabularies.
func InferDocType(category, docType string) string {
	hint := strings.ToLower(category + " " + docType)
	switch {
	case containsAny(hint, "law", "code", "constitution", "օրենք", "օրենսգիրք", "սահմանադրություն"):
		return "law"
	case containsAny(hint, "decision", "court", "cassation", "echr", "որոշում", "վճիռ", "դատարան"):
		return "case"
	case containsAny(hint, "contract", "agreement", "պայմանագիր", "համաձայնագիր"):
		return "contract"
	default:
		return "other"
	}
}

// InferJurisdiction prefers the ECHR marker on court type, then the
// document's declared jurisdiction, then the AM default.
func InferJurisdiction(courtType, jurisdiction string) string {
	if strings.Contains(strings.ToLower(courtType), "echr") {
		return "ECHR"
	}
	if j := strings.TrimSpace(jurisdiction); j != "" {
		return j
	}
	return "AM"
}

// DetectScript counts Armenian, Cyrillic and Latin letters in the sample and
// returns "hy", "ru" or "en". Ties and weak signal default to "en".
func DetectScript(s string) string {
	var hy, ru, la int
	for _, r := range s {
		switch {
		case r >= 0x0530 && r <= 0x058F:
			hy++
		case r >= 0x0400 && r <= 0x04FF:
			ru++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			la++
		}
	}
	const minSignal = 10
	switch {
	case hy > ru && hy > la && hy >= minSignal:
		return "hy"
	case ru > hy && ru > la && ru >= minSignal:
		return "ru"
	default:
		return "en"
	}
}

func buildTypedText(docType string, doc models.LegalDocument) string {
	body := strings.TrimSpace(doc.ContentText)
	var parts []string
	switch docType {
	case "case":
		parts = frontLoad(body, map[string][]string{
			"FACTS":     {"Փաստեր", "Facts", "ФАКТЫ"},
			"REASONING": {"Պատճառաբանություն", "Reasoning", "Վերլուծություն"},
			"JUDGMENT":  {"Վճիռ", "Որոշեց", "Judgment", "Held"},
			"PROCEDURE": {"Ընթացակարգ", "Procedure", "Վարույթ"},
		}, []string{"FACTS", "REASONING", "JUDGMENT", "PROCEDURE"})
	case "law":
		parts = frontLoad(body, map[string][]string{
			"SUBJECT":        {"Կարգավորման առարկան", "Subject", "Հոդված 1"},
			"KEY_PROVISIONS": {"Հոդված", "Article"},
		}, []string{"SUBJECT", "KEY_PROVISIONS"})
	case "contract":
		parts = frontLoad(body, map[string][]string{
			"SUBJECT":     {"Պայմանագրի առարկան", "Subject"},
			"SCOPE":       {"Ծավալ", "Scope"},
			"LIMITATIONS": {"Սահմանափակում", "Limitation", "Liability"},
		}, []string{"SUBJECT", "SCOPE", "LIMITATIONS"})
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n") + "\n" + body
	}
	return body
}

// frontLoad pulls labeled excerpts out of the body for each marker group so
// the highest-signal material survives the truncation window.
func frontLoad(body string, markers map[string][]string, order []string) []string {
	const excerptRunes = 1200
	out := make([]string, 0, len(order))
	for _, label := range order {
		for _, marker := range markers[label] {
			idx := strings.Index(body, marker)
			if idx < 0 {
				continue
			}
			excerpt := truncateRunes(body[idx:], excerptRunes)
			out = append(out, label+": "+strings.Join(strings.Fields(excerpt), " "))
			break
		}
	}
	return out
}

func truncateAtSentence(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	cut := string(r[:maxRunes])
	best, width := -1, 0
	for _, end := range []string{".", "։", "!", "?"} {
		if i := strings.LastIndex(cut, end); i > best {
			best, width = i, len(end)
		}
	}
	// Only honor a sentence boundary in the back half; otherwise hard cut.
	// best is a byte offset, so the comparison and slice stay byte-based.
	if best >= 0 && utf8.RuneCountInString(cut[:best]) > maxRunes/2 {
		return strings.TrimSpace(cut[:best+width])
	}
	return strings.TrimSpace(cut)
}

func truncateRunes(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}

func section(b *strings.Builder, name, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString(name + ": " + value + "\n")
}

func sample(s string) string {
	r := []rune(s)
	if len(r) > scriptSampleRunes {
		return string(r[:scriptSampleRunes])
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
