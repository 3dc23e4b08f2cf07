package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lexrag/internal/models"
)

func txtSource(title, date string, chunks int) SourceRecord {
	r := SourceRecord{
		FileName:    "law.txt",
		MimeType:    "text/plain",
		Title:       title,
		DateAdopted: date,
		ContentText: "text body of " + title,
	}
	for i := 0; i < chunks; i++ {
		r.Chunks = append(r.Chunks, models.Chunk{ChunkIndex: i, ChunkType: "article", Content: "txt chunk"})
	}
	return r
}

func pdfSource(title, date string, chunks int) SourceRecord {
	r := SourceRecord{
		FileName:    "law.pdf",
		MimeType:    "application/pdf",
		Title:       title,
		DateAdopted: date,
		ContentText: "pdf body of " + title,
	}
	for i := 0; i < chunks; i++ {
		r.Chunks = append(r.Chunks, models.Chunk{ChunkIndex: i, ChunkType: "section", Content: "pdf chunk"})
	}
	return r
}

func TestExtractArlisID(t *testing.T) {
	require.Equal(t, "4501", ExtractArlisID("https://www.arlis.am/DocumentView.aspx?docid=4501", ""))
	require.Equal(t, "4501", ExtractArlisID("https://www.arlis.am/doc?other=1&DocID=4501", ""))
	require.Equal(t, "77812", ExtractArlisID("", "arlis_77812.pdf"))
	require.Equal(t, "9", ExtractArlisID("", "export-doc-9.txt"))
	require.Equal(t, "", ExtractArlisID("https://example.am/law", "statute.txt"))
}

func TestNormalizeTitle(t *testing.T) {
	require.Equal(t, "քաղաքացիական օրենսգիրք", NormalizeTitle("  Քաղաքացիական   ՕՐԵՆՍԳԻՐՔ!! "))
	require.Equal(t, "law no 42", NormalizeTitle("Law, No. 42"))
	require.Equal(t, "", NormalizeTitle(" ... "))
}

func TestMatchByArlisID(t *testing.T) {
	a := txtSource("Different title A", "2001-01-01", 1)
	a.SourceURL = "https://www.arlis.am/DocumentView.aspx?docid=4501"
	b := pdfSource("Different title B", "2002-02-02", 1)
	b.SourceURL = "https://www.arlis.am/DocumentView.aspx?docid=4501&lang=hy"

	m := MatchSources(a, b)
	require.True(t, m.Matched)
	require.Equal(t, RuleArlisID, m.Rule)
	require.Equal(t, "4501", m.ArlisID)
}

func TestMatchByTitleAndDate(t *testing.T) {
	a := txtSource("Քաղաքացիական օրենսգիրք", "1998-05-05", 1)
	b := pdfSource("ՔԱՂԱՔԱՑԻԱԿԱՆ  ՕՐԵՆՍԳԻՐՔ", "1998-05-05", 1)

	m := MatchSources(a, b)
	require.True(t, m.Matched)
	require.Equal(t, RuleTitleDate, m.Rule)

	b.DateAdopted = "1999-01-01"
	require.False(t, MatchSources(a, b).Matched)
}

func TestMatchRequiresDateForTitleRule(t *testing.T) {
	a := txtSource("Same title", "", 0)
	b := pdfSource("Same title", "", 0)
	require.False(t, MatchSources(a, b).Matched)
}

func TestClassifyRejectsSameKind(t *testing.T) {
	_, _, err := ClassifySources(pdfSource("t", "d", 0), pdfSource("t", "d", 0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "two PDFs")

	_, _, err = ClassifySources(txtSource("t", "d", 0), txtSource("t", "d", 0))
	require.Error(t, err)
	require.Contains(t, err.Error(), "two TXTs")
}

func TestMergeSourcesTxtPrimaryAndReindex(t *testing.T) {
	txt := txtSource("Քաղաքացիական օրենսգիրք", "1998-05-05", 3)
	pdf := pdfSource("Քաղաքացիական օրենսգիրք", "1998-05-05", 2)
	pdf.SourceURL = "https://www.arlis.am/DocumentView.aspx?docid=4501"

	// pdf passed first; ordering must not matter
	doc, err := MergeSources(pdf, txt)
	require.NoError(t, err)
	require.Equal(t, txt.Title, doc.Title)
	require.Equal(t, txt.ContentText, doc.ContentText)
	require.Equal(t, pdf.SourceURL, doc.SourceURL)
	require.Len(t, doc.AllChunks, 5)

	seen := make(map[int]bool)
	for _, c := range doc.AllChunks {
		require.False(t, seen[c.ChunkIndex], "index %d assigned twice", c.ChunkIndex)
		seen[c.ChunkIndex] = true
	}
	for i := 0; i < 5; i++ {
		require.True(t, seen[i])
	}
	for _, c := range doc.AllChunks[3:] {
		require.Contains(t, c.ChunkType, "[PDF]")
	}
	for _, c := range doc.AllChunks[:3] {
		require.NotContains(t, c.ChunkType, "[PDF]")
	}
	require.NotEmpty(t, doc.TxtHash)
	require.NotEmpty(t, doc.PdfHash)
	require.NotEqual(t, doc.TxtHash, doc.PdfHash)
}

func TestMergeSourcesPrefersFileHashes(t *testing.T) {
	txt := txtSource("Քաղաքացիական օրենսգիրք", "1998-05-05", 1)
	pdf := pdfSource("Քաղաքացիական օրենսգիրք", "1998-05-05", 1)
	txt.SourceKey = "aaa111"
	pdf.SourceKey = "bbb222"

	doc, err := MergeSources(txt, pdf)
	require.NoError(t, err)
	require.Equal(t, "aaa111", doc.TxtHash)
	require.Equal(t, "bbb222", doc.PdfHash)
}

func TestMergeSourcesRejectsUnmatched(t *testing.T) {
	a := txtSource("Title one", "1998-05-05", 1)
	b := pdfSource("Title two", "1998-05-05", 1)
	_, err := MergeSources(a, b)
	require.Error(t, err)
}

func TestFindMatchingPairsPrefersArlisID(t *testing.T) {
	// Records 0 and 1 share an arlis id AND a title/date with record 2.
	// The id rule must claim them first so record 2 stays unpaired.
	r0 := txtSource("Օրենք", "2000-01-01", 0)
	r0.SourceURL = "https://www.arlis.am/DocumentView.aspx?docid=100"
	r1 := pdfSource("Օրենք", "2000-01-01", 0)
	r1.SourceURL = "https://www.arlis.am/DocumentView.aspx?docid=100"
	r2 := pdfSource("Օրենք", "2000-01-01", 0)

	r3 := txtSource("Այլ օրենք", "2010-03-03", 0)
	r4 := pdfSource("Այլ օրենք", "2010-03-03", 0)

	pairs := FindMatchingPairs([]SourceRecord{r0, r1, r2, r3, r4})
	require.Len(t, pairs, 2)
	require.Equal(t, RuleArlisID, pairs[0].Rule)
	require.Equal(t, RuleTitleDate, pairs[1].Rule)
	require.Equal(t, "Այլ օրենք", pairs[1].A.Title)
}
