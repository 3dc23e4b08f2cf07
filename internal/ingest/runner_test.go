package ingest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"lexrag/internal/models"
)

type fakeDocs struct {
	docs       map[string]models.LegalDocument
	candidates []models.LegalDocument
}

func (f *fakeDocs) Get(_ context.Context, _, docID string) (models.LegalDocument, error) {
	doc, ok := f.docs[docID]
	if !ok {
		return models.LegalDocument{}, errors.New("document not found: " + docID)
	}
	return doc, nil
}

func (f *fakeDocs) ListBackfillCandidates(_ context.Context, _ string, limit int) ([]models.LegalDocument, error) {
	if limit > len(f.candidates) {
		limit = len(f.candidates)
	}
	return f.candidates[:limit], nil
}

type fakeChunks struct {
	mu         sync.Mutex
	counts     map[string]int
	replaced   map[string][]models.Chunk
	replaceErr error
	remaining  int
}

func (f *fakeChunks) CountChunks(_ context.Context, _, docID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[docID], nil
}

func (f *fakeChunks) ReplaceChunks(_ context.Context, _, docID string, chunks []models.Chunk) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaced == nil {
		f.replaced = map[string][]models.Chunk{}
	}
	f.replaced[docID] = chunks
	return nil
}

func (f *fakeChunks) CountDocsMissingChunks(_ context.Context, _ string) (int, error) {
	return f.remaining, nil
}

func doc(id, text string) models.LegalDocument {
	return models.LegalDocument{DocID: id, Table: models.TableKB, Title: "Օրենք " + id, ContentText: text, DocType: "law", Active: true}
}

func TestRunRejectsUnknownTable(t *testing.T) {
	r := NewRunner(&fakeDocs{}, &fakeChunks{}, 1)
	_, ferr := r.Run(context.Background(), Request{Table: "archive"})
	require.NotNil(t, ferr)
	require.Equal(t, http.StatusBadRequest, ferr.Status)
	require.Equal(t, "bad_request", ferr.Code)
}

func TestRunSingleDocumentWritesChunks(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.LegalDocument{
		"d1": doc("d1", strings.Repeat("տեքստ ", 300)),
	}}
	chunks := &fakeChunks{remaining: 4}
	r := NewRunner(docs, chunks, 2)

	resp, ferr := r.Run(context.Background(), Request{Table: models.TableKB, DocID: "d1"})
	require.Nil(t, ferr)
	require.Equal(t, 1, resp.Processed)
	require.Equal(t, 4, resp.TotalRemaining)
	require.NotEmpty(t, chunks.replaced["d1"])
	for i, c := range chunks.replaced["d1"] {
		require.Equal(t, i, c.ChunkIndex)
		require.NotEmpty(t, c.ChunkID)
		require.NotEmpty(t, c.ContentHash)
	}
}

func TestRunSkipsEmptyContent(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.LegalDocument{"d1": doc("d1", "   ")}}
	chunks := &fakeChunks{}
	r := NewRunner(docs, chunks, 1)

	resp, ferr := r.Run(context.Background(), Request{Table: models.TableKB, DocID: "d1"})
	require.Nil(t, ferr)
	require.Equal(t, 0, resp.Processed)
	require.Equal(t, 1, resp.Skipped)
	require.Equal(t, "empty content", resp.Documents[0].SkipReason)
	require.Empty(t, chunks.replaced)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.LegalDocument{"d1": doc("d1", strings.Repeat("x", 9000))}}
	chunks := &fakeChunks{}
	r := NewRunner(docs, chunks, 1)

	resp, ferr := r.Run(context.Background(), Request{Table: models.TableKB, DocID: "d1", DryRun: true})
	require.Nil(t, ferr)
	require.Equal(t, 1, resp.Processed)
	require.Positive(t, resp.Documents[0].ChunkCount)
	require.Empty(t, chunks.replaced)
}

func TestRunAutoDiscoveryFiltersChunkedDocs(t *testing.T) {
	candidates := []models.LegalDocument{
		doc("has-chunks", "already chunked text"),
		doc("fresh-1", "new text one"),
		doc("fresh-2", "new text two"),
		doc("fresh-3", "new text three"),
	}
	docs := &fakeDocs{candidates: candidates}
	chunks := &fakeChunks{counts: map[string]int{"has-chunks": 7}, remaining: 1}
	r := NewRunner(docs, chunks, 1)

	resp, ferr := r.Run(context.Background(), Request{Table: models.TableKB, BatchLimit: 2})
	require.Nil(t, ferr)
	require.Equal(t, 2, resp.Processed)

	ids := map[string]bool{}
	for _, d := range resp.Documents {
		ids[d.DocID] = true
	}
	require.False(t, ids["has-chunks"])
	require.True(t, ids["fresh-1"])
	require.True(t, ids["fresh-2"])
}

func TestRunStorageErrorIsTyped(t *testing.T) {
	docs := &fakeDocs{docs: map[string]models.LegalDocument{"d1": doc("d1", "text to chunk")}}
	chunks := &fakeChunks{replaceErr: errors.New("connection reset")}
	r := NewRunner(docs, chunks, 1)

	_, ferr := r.Run(context.Background(), Request{Table: models.TableKB, DocID: "d1"})
	require.NotNil(t, ferr)
	require.Equal(t, http.StatusInternalServerError, ferr.Status)
	require.Equal(t, "storage_error", ferr.Code)
	require.Contains(t, ferr.Message, "connection reset")
}

func TestRunUnknownDocIs404(t *testing.T) {
	r := NewRunner(&fakeDocs{docs: map[string]models.LegalDocument{}}, &fakeChunks{}, 1)
	_, ferr := r.Run(context.Background(), Request{Table: models.TableKB, DocID: "missing"})
	require.NotNil(t, ferr)
	require.Equal(t, http.StatusNotFound, ferr.Status)
}
