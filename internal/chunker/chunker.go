// Package chunker splits normalized legal documents into chunks. Law and
// case documents get a structural split along legal markers (articles,
// numbered sections); everything else falls back to a fixed character window
// with overlap. Chunking is deterministic: unchanged input yields
// byte-identical chunk text and hashes.
package chunker

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultWindow = 8000
	MinWindow     = 500
	MaxWindow     = 20000
	Overlap       = 200

	StrategySmart = "smart"
	StrategyFixed = "fixed"
)

type Input struct {
	DocType     string
	ContentText string
	Title       string
	ChunkSize   int
	Overlap     int
}

// Chunk offsets are rune positions into the normalized document text,
// regardless of strategy.
type Chunk struct {
	Index     int
	Type      string
	CharStart int
	CharEnd   int
	Text      string
	Hash      string
}

type Output struct {
	Chunks   []Chunk
	Strategy string
}

// Structural markers that open a new chunk in the smart strategy. Armenian
// statutes use "Հոդված N", decisions use numbered section headers.
var structuralMarker = regexp.MustCompile(`(?m)^\s*(?:Հոդված\s+\d+|ՀՈԴՎԱԾ\s+\d+|Article\s+\d+|Գլուխ\s+\d+|\d+\.\s+[Ա-ՖA-Z])`)

var smartDocTypes = map[string]bool{
	"law":            true,
	"code":           true,
	"court_decision": true,
	"case":           true,
}

// ChunkDocument splits the document and returns chunks with contiguous
// zero-based indices. Chunks that trim to empty are dropped, not emitted.
func ChunkDocument(in Input) Output {
	text := in.ContentText
	if strings.TrimSpace(text) == "" {
		return Output{Chunks: []Chunk{}, Strategy: StrategyFixed}
	}
	if smartDocTypes[strings.ToLower(strings.TrimSpace(in.DocType))] {
		if chunks := splitStructural(text); len(chunks) > 1 {
			return Output{Chunks: reindex(chunks), Strategy: StrategySmart}
		}
	}
	return Output{Chunks: reindex(splitFixed(text, in.ChunkSize, in.Overlap)), Strategy: StrategyFixed}
}

func splitStructural(text string) []Chunk {
	locs := structuralMarker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	bounds := make([]int, 0, len(locs)+2)
	if locs[0][0] > 0 {
		bounds = append(bounds, 0)
	}
	for _, loc := range locs {
		bounds = append(bounds, loc[0])
	}
	bounds = append(bounds, len(text))

	// The regexp reports byte offsets; one incremental walk turns each
	// bound into a rune offset so both strategies speak the same unit.
	runeBounds := make([]int, len(bounds))
	prev, runePos := 0, 0
	for i, b := range bounds {
		runePos += utf8.RuneCountInString(text[prev:b])
		runeBounds[i] = runePos
		prev = b
	}

	chunks := make([]Chunk, 0, len(bounds))
	for i := 0; i+1 < len(bounds); i++ {
		piece := strings.TrimSpace(text[bounds[i]:bounds[i+1]])
		if piece == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Type:      labelFor(piece),
			CharStart: runeBounds[i],
			CharEnd:   runeBounds[i+1],
			Text:      piece,
			Hash:      ContentHash(piece),
		})
	}
	return chunks
}

func labelFor(piece string) string {
	head := strings.ToLower(firstLine(piece))
	switch {
	case strings.HasPrefix(head, "հոդված") || strings.HasPrefix(head, "article"):
		return "article"
	case strings.HasPrefix(head, "գլուխ"):
		return "chapter"
	default:
		return "section"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// splitFixed walks a character window across the text, advancing the window
// start by end-overlap each iteration and stopping once the window reaches
// the end of text.
func splitFixed(text string, window, overlap int) []Chunk {
	window = ClampWindow(window)
	overlap = clampOverlap(overlap, window)
	runes := []rune(text)
	chunks := make([]Chunk, 0, len(runes)/window+1)
	start := 0
	for start < len(runes) {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, Chunk{
				Type:      "window",
				CharStart: start,
				CharEnd:   end,
				Text:      piece,
				Hash:      ContentHash(piece),
			})
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// clampOverlap keeps the window advancing: an unset overlap takes the
// default, and an overlap at or above the window is cut to half of it.
func clampOverlap(overlap, window int) int {
	if overlap <= 0 {
		return Overlap
	}
	if overlap >= window {
		return window / 2
	}
	return overlap
}

func ClampWindow(window int) int {
	if window <= 0 {
		return DefaultWindow
	}
	if window < MinWindow {
		return MinWindow
	}
	if window > MaxWindow {
		return MaxWindow
	}
	return window
}

func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// ContentHash is a stable 32-bit FNV-1a hash of chunk text. Non-cryptographic
// on purpose: it only detects unchanged content for idempotent re-chunking.
func ContentHash(text string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%08x", h.Sum32())
}
