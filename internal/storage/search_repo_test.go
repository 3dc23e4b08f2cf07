package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lexrag/internal/models"
)

func TestEvidenceSnippetsPickQueryRelevantSentences(t *testing.T) {
	filler := strings.Repeat("Այլ հոդվածի անկապ տեքստ։ ", 40)
	items := []models.ResultItem{{
		DocID:   "doc-1",
		Snippet: filler + "Հարկային պարտավորությունը մարվում է օրենքով սահմանված կարգով։",
	}}

	out := evidenceSnippets(items, "հարկային պարտավորություն")
	require.Len(t, out, 1)
	require.Contains(t, out[0].Snippet, "Հարկային պարտավորությունը")
	require.LessOrEqual(t, len([]rune(out[0].Snippet)), snippetChars)
}

func TestDisplaySnippetsTrimAndNormalize(t *testing.T) {
	items := []models.ResultItem{{
		DocID:   "doc-1",
		Snippet: "  առաջին   տող\n\nերկրորդ տող  " + strings.Repeat("x", 1000),
	}}

	out := displaySnippets(items)
	require.True(t, strings.HasPrefix(out[0].Snippet, "առաջին տող երկրորդ տող"))
	require.LessOrEqual(t, len([]rune(out[0].Snippet)), snippetChars)
}
