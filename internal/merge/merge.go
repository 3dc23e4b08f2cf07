// Package merge pairs duplicate source files (TXT + PDF versions of the same
// legal document) and merges them into one document. Matching is strictly
// rule-based: a shared registry identifier or an exact normalized title plus
// adoption date. There is no fuzzy matching; unmatched pairs are rejected.
package merge

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"lexrag/internal/models"
	"lexrag/internal/util"
)

const (
	RuleArlisID   = "arlis_id"
	RuleTitleDate = "title_date"

	// Legacy .doc sources are a product decision, not a technical limit.
	LegacyDocUnsupported = ".doc"
	// Minimum OCR confidence accepted when a PDF source went through OCR.
	OCRConfidenceThreshold = 0.70
)

// SourceRecord is one physical file that may be a version of a legal
// document. It exists only during the merge step and is never persisted.
type SourceRecord struct {
	SourceKey   string
	FileName    string
	MimeType    string
	SourceURL   string
	Title       string
	DateAdopted string
	ContentText string
	Chunks      []models.Chunk
}

type MatchResult struct {
	Matched        bool
	Rule           string
	ArlisID        string
	ComparedFields []string
}

// MergedDocument is the outcome of pairing a TXT and a PDF source. The TXT
// source is always primary; PDF chunks continue the TXT index sequence.
type MergedDocument struct {
	Title       string
	ContentText string
	DateAdopted string
	SourceURL   string
	AllChunks   []models.Chunk
	MatchRule   string
	TxtHash     string
	PdfHash     string
}

type Pair struct {
	A    SourceRecord
	B    SourceRecord
	Rule string
}

// arlisDocID captures the numeric document id in arlis.am-style registry
// URLs (?docid=4501 / &DocID=4501) and in registry-export filenames.
var (
	reURLDocID  = regexp.MustCompile(`(?i)[?&]docid=(\d+)`)
	reFileDocID = regexp.MustCompile(`(?i)(?:^|[_\-])(?:doc|arlis)[_\-]?(\d+)`)
	reTitleJunk = regexp.MustCompile(`[^\pL\pN]+`)
)

// ExtractArlisID pulls the registry document id from a source URL or, failing
// that, from the file name. Returns "" when neither carries one.
func ExtractArlisID(sourceURL, fileName string) string {
	if m := reURLDocID.FindStringSubmatch(sourceURL); m != nil {
		return m[1]
	}
	if m := reFileDocID.FindStringSubmatch(fileName); m != nil {
		return m[1]
	}
	return ""
}

// NormalizeTitle lowercases, collapses whitespace and strips everything that
// is not a letter or digit boundary.
func NormalizeTitle(s string) string {
	s = strings.ToLower(s)
	s = reTitleJunk.ReplaceAllString(s, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// MatchSources evaluates the matching rules in priority order.
func MatchSources(a, b SourceRecord) MatchResult {
	idA := ExtractArlisID(a.SourceURL, a.FileName)
	idB := ExtractArlisID(b.SourceURL, b.FileName)
	if idA != "" && idA == idB {
		return MatchResult{
			Matched:        true,
			Rule:           RuleArlisID,
			ArlisID:        idA,
			ComparedFields: []string{"source_url", "file_name"},
		}
	}

	titleA := NormalizeTitle(a.Title)
	titleB := NormalizeTitle(b.Title)
	if titleA != "" && titleA == titleB &&
		strings.TrimSpace(a.DateAdopted) != "" && a.DateAdopted == b.DateAdopted {
		return MatchResult{
			Matched:        true,
			Rule:           RuleTitleDate,
			ComparedFields: []string{"title", "date_adopted"},
		}
	}
	return MatchResult{}
}

// IsPDF classifies a source by MIME type first, extension second.
func IsPDF(s SourceRecord) bool {
	if strings.EqualFold(strings.TrimSpace(s.MimeType), "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(s.FileName), ".pdf")
}

// ClassifySources requires exactly one PDF and one TXT source. Any other
// combination is a hard error, never a fallback.
func ClassifySources(a, b SourceRecord) (txt, pdf SourceRecord, err error) {
	switch {
	case IsPDF(a) && IsPDF(b):
		return SourceRecord{}, SourceRecord{}, fmt.Errorf("merge requires one TXT and one PDF source, got two PDFs (%s, %s)", a.FileName, b.FileName)
	case !IsPDF(a) && !IsPDF(b):
		return SourceRecord{}, SourceRecord{}, fmt.Errorf("merge requires one TXT and one PDF source, got two TXTs (%s, %s)", a.FileName, b.FileName)
	case IsPDF(a):
		return b, a, nil
	default:
		return a, b, nil
	}
}

// MergeSources matches and merges a TXT/PDF pair. The TXT source supplies
// the primary text and title; PDF chunks are re-indexed after the TXT chunks
// and labeled with a [PDF] prefix. Rejects rather than guesses.
func MergeSources(a, b SourceRecord) (MergedDocument, error) {
	match := MatchSources(a, b)
	if !match.Matched {
		return MergedDocument{}, fmt.Errorf("sources %s and %s do not match by any rule", a.FileName, b.FileName)
	}
	txt, pdf, err := ClassifySources(a, b)
	if err != nil {
		return MergedDocument{}, err
	}

	all := make([]models.Chunk, 0, len(txt.Chunks)+len(pdf.Chunks))
	all = append(all, txt.Chunks...)
	base := len(txt.Chunks)
	for i, c := range pdf.Chunks {
		c.ChunkIndex = base + i
		if !strings.HasPrefix(c.ChunkType, "[PDF]") {
			c.ChunkType = "[PDF] " + c.ChunkType
		}
		all = append(all, c)
	}

	return MergedDocument{
		Title:       txt.Title,
		ContentText: txt.ContentText,
		DateAdopted: txt.DateAdopted,
		SourceURL:   firstNonEmpty(txt.SourceURL, pdf.SourceURL),
		AllChunks:   all,
		MatchRule:   match.Rule,
		TxtHash:     sourceHash(txt),
		PdfHash:     sourceHash(pdf),
	}, nil
}

// sourceHash prefers the hash of the original file bytes, stamped by the
// extract step, over a hash of the already-sanitized text.
func sourceHash(rec SourceRecord) string {
	if rec.SourceKey != "" {
		return rec.SourceKey
	}
	return util.SHA256Hex([]byte(rec.ContentText))
}

// FindMatchingPairs groups many source records, preferring arlis_id groups
// over title_date groups when a record would match via both rules. Groups
// with fewer than two records are not reported.
func FindMatchingPairs(records []SourceRecord) []Pair {
	used := make([]bool, len(records))
	pairs := make([]Pair, 0)

	byID := make(map[string][]int)
	idKeys := make([]string, 0)
	for i, r := range records {
		if id := ExtractArlisID(r.SourceURL, r.FileName); id != "" {
			if _, seen := byID[id]; !seen {
				idKeys = append(idKeys, id)
			}
			byID[id] = append(byID[id], i)
		}
	}
	for _, key := range idKeys {
		idxs := byID[key]
		if len(idxs) < 2 {
			continue
		}
		for j := 0; j+1 < len(idxs); j += 2 {
			a, b := idxs[j], idxs[j+1]
			used[a], used[b] = true, true
			pairs = append(pairs, Pair{A: records[a], B: records[b], Rule: RuleArlisID})
		}
	}

	byTitleDate := make(map[string][]int)
	tdKeys := make([]string, 0)
	for i, r := range records {
		if used[i] {
			continue
		}
		title := NormalizeTitle(r.Title)
		if title == "" || strings.TrimSpace(r.DateAdopted) == "" {
			continue
		}
		key := title + "|" + r.DateAdopted
		if _, seen := byTitleDate[key]; !seen {
			tdKeys = append(tdKeys, key)
		}
		byTitleDate[key] = append(byTitleDate[key], i)
	}
	for _, key := range tdKeys {
		idxs := byTitleDate[key]
		if len(idxs) < 2 {
			continue
		}
		for j := 0; j+1 < len(idxs); j += 2 {
			a, b := idxs[j], idxs[j+1]
			used[a], used[b] = true, true
			pairs = append(pairs, Pair{A: records[a], B: records[b], Rule: RuleTitleDate})
		}
	}
	return pairs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
