// Package ingest implements the pollable chunk-backfill batch job. Each
// invocation processes a bounded batch and reports how much work remains, so
// repeated calls drain the backlog without any long-running process.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lexrag/internal/chunker"
	"lexrag/internal/models"
)

const (
	DefaultBatchLimit = 20
	// Auto-discovery over-fetches candidates by this factor, then filters
	// to documents with zero chunks. A bounded linear scan, accepted for
	// its simplicity over an anti-join the hosted tier cannot index well.
	candidateFactor = 4
)

type DocumentStore interface {
	Get(ctx context.Context, table, docID string) (models.LegalDocument, error)
	ListBackfillCandidates(ctx context.Context, table string, limit int) ([]models.LegalDocument, error)
}

type ChunkStore interface {
	CountChunks(ctx context.Context, table, docID string) (int, error)
	ReplaceChunks(ctx context.Context, table, docID string, chunks []models.Chunk) error
	CountDocsMissingChunks(ctx context.Context, table string) (int, error)
}

type Request struct {
	Table      string   `json:"table"`
	DocID      string   `json:"docId,omitempty"`
	DocIDs     []string `json:"docIds,omitempty"`
	ChunkSize  int      `json:"chunkSize,omitempty"`
	Overlap    int      `json:"overlap,omitempty"`
	DryRun     bool     `json:"dryRun,omitempty"`
	BatchLimit int      `json:"batchLimit,omitempty"`
}

type DocReport struct {
	DocID      string `json:"docId"`
	ChunkCount int    `json:"chunkCount"`
	Strategy   string `json:"strategy,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skipReason,omitempty"`
}

type Response struct {
	Table          string      `json:"table"`
	Processed      int         `json:"processed"`
	Skipped        int         `json:"skipped"`
	DryRun         bool        `json:"dryRun"`
	Documents      []DocReport `json:"documents"`
	TotalRemaining int         `json:"totalRemaining"`
}

// Error is the typed failure shape the endpoint returns verbatim.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "bad_request", Message: fmt.Sprintf(format, args...)}
}

func storageError(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: "storage_error", Message: err.Error()}
}

type Runner struct {
	docs        DocumentStore
	chunks      ChunkStore
	concurrency int
}

func NewRunner(docs DocumentStore, chunks ChunkStore, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{docs: docs, chunks: chunks, concurrency: concurrency}
}

// Run processes one bounded batch. Partial writes from earlier documents in
// the batch survive a mid-batch failure; re-running is safe because writes
// replace a document's whole chunk set.
func (r *Runner) Run(ctx context.Context, req Request) (Response, *Error) {
	if req.Table != models.TableKB && req.Table != models.TablePractice {
		return Response{}, badRequest("table must be %q or %q", models.TableKB, models.TablePractice)
	}
	batchLimit := req.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}

	docs, ferr := r.resolveDocuments(ctx, req, batchLimit)
	if ferr != nil {
		return Response{}, ferr
	}

	resp := Response{Table: req.Table, DryRun: req.DryRun, Documents: make([]DocReport, 0, len(docs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			report, err := r.processOne(gctx, doc, req)
			if err != nil {
				return err
			}
			mu.Lock()
			resp.Documents = append(resp.Documents, report)
			if report.Skipped {
				resp.Skipped++
			} else {
				resp.Processed++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, storageError(err)
	}

	remaining, err := r.chunks.CountDocsMissingChunks(ctx, req.Table)
	if err != nil {
		return Response{}, storageError(err)
	}
	resp.TotalRemaining = remaining
	log.Printf("backfill %s: processed=%d skipped=%d remaining=%d dryRun=%v",
		req.Table, resp.Processed, resp.Skipped, remaining, req.DryRun)
	return resp, nil
}

func (r *Runner) resolveDocuments(ctx context.Context, req Request, batchLimit int) ([]models.LegalDocument, *Error) {
	switch {
	case req.DocID != "":
		doc, err := r.docs.Get(ctx, req.Table, req.DocID)
		if err != nil {
			return nil, &Error{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
		}
		return []models.LegalDocument{doc}, nil

	case len(req.DocIDs) > 0:
		out := make([]models.LegalDocument, 0, len(req.DocIDs))
		for _, id := range req.DocIDs {
			doc, err := r.docs.Get(ctx, req.Table, id)
			if err != nil {
				return nil, &Error{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
			}
			out = append(out, doc)
		}
		return out, nil

	default:
		return r.discover(ctx, req.Table, batchLimit)
	}
}

// discover collects up to batchLimit documents that have no chunks yet,
// scanning the most recently updated candidates first.
func (r *Runner) discover(ctx context.Context, table string, batchLimit int) ([]models.LegalDocument, *Error) {
	candidates, err := r.docs.ListBackfillCandidates(ctx, table, batchLimit*candidateFactor)
	if err != nil {
		return nil, storageError(err)
	}
	out := make([]models.LegalDocument, 0, batchLimit)
	for _, doc := range candidates {
		if len(out) == batchLimit {
			break
		}
		n, err := r.chunks.CountChunks(ctx, table, doc.DocID)
		if err != nil {
			return nil, storageError(err)
		}
		if n == 0 {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *Runner) processOne(ctx context.Context, doc models.LegalDocument, req Request) (DocReport, error) {
	if strings.TrimSpace(doc.ContentText) == "" {
		return DocReport{DocID: doc.DocID, Skipped: true, SkipReason: "empty content"}, nil
	}

	out := chunker.ChunkDocument(chunker.Input{
		DocType:     doc.DocType,
		ContentText: doc.ContentText,
		Title:       doc.Title,
		ChunkSize:   req.ChunkSize,
		Overlap:     req.Overlap,
	})

	report := DocReport{DocID: doc.DocID, ChunkCount: len(out.Chunks), Strategy: out.Strategy}
	if req.DryRun {
		return report, nil
	}

	rows := make([]models.Chunk, len(out.Chunks))
	for i, c := range out.Chunks {
		rows[i] = models.Chunk{
			ChunkID:     uuid.New().String(),
			Table:       req.Table,
			DocID:       doc.DocID,
			ChunkIndex:  c.Index,
			ChunkType:   c.Type,
			CharStart:   c.CharStart,
			CharEnd:     c.CharEnd,
			Content:     c.Text,
			ContentHash: c.Hash,
		}
	}
	if err := r.chunks.ReplaceChunks(ctx, req.Table, doc.DocID, rows); err != nil {
		return DocReport{}, fmt.Errorf("replace chunks for %s: %w", doc.DocID, err)
	}
	return report, nil
}
