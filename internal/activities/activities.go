// Package activities holds the Temporal activity implementations. Each
// activity is a thin adapter from workflow inputs to the domain packages;
// retries and timeouts belong to the calling workflow's policy.
package activities

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"lexrag/internal/chunker"
	"lexrag/internal/config"
	"lexrag/internal/embedtext"
	"lexrag/internal/gateway"
	"lexrag/internal/ingest"
	"lexrag/internal/merge"
	"lexrag/internal/models"
	"lexrag/internal/storage"
	"lexrag/internal/util"
)

type Activities struct {
	cfg       config.Config
	docRepo   *storage.DocumentRepo
	chunkRepo *storage.ChunkRepo
	jobRepo   *storage.JobRepo
	gateway   *gateway.Client
	runner    *ingest.Runner
}

func New(cfg config.Config, db *storage.DB) *Activities {
	docRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	return &Activities{
		cfg:       cfg,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		jobRepo:   storage.NewJobRepo(db, cfg.JobRetryBudget),
		gateway: gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, gateway.DefaultRegistry(cfg.GatewayTimeoutSecs, cfg.TranscriptionTimeoutSecs),
			gateway.WithMaxRetries(cfg.GatewayMaxRetries),
			gateway.WithAuditSink(storage.NewAuditRepo(db))),
		runner: ingest.NewRunner(docRepo, chunkRepo, cfg.BackfillConcurrency),
	}
}

// RunBackfillBatchActivity executes one bounded backfill batch. The typed
// runner error is flattened so Temporal's retry policy sees a plain error.
func (a *Activities) RunBackfillBatchActivity(ctx context.Context, in ingest.Request) (ingest.Response, error) {
	resp, ferr := a.runner.Run(ctx, in)
	if ferr != nil {
		return ingest.Response{}, ferr
	}
	return resp, nil
}

func (a *Activities) ClaimJobsActivity(ctx context.Context, in ClaimJobsInput) (ClaimJobsOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = a.cfg.BackfillBatchLimit
	}
	jobs, err := a.jobRepo.Claim(ctx, limit)
	if err != nil {
		return ClaimJobsOutput{}, err
	}
	return ClaimJobsOutput{Jobs: jobs}, nil
}

// ProcessJobActivity takes a claimed job through the full pipeline: load the
// document, rebuild its chunks, embed them, and mark the job done.
func (a *Activities) ProcessJobActivity(ctx context.Context, in ProcessJobInput) (ProcessJobOutput, error) {
	doc, err := a.docRepo.Get(ctx, in.Table, in.DocID)
	if err != nil {
		return ProcessJobOutput{}, fmt.Errorf("load document for job %s: %w", in.JobID, err)
	}
	if strings.TrimSpace(doc.ContentText) == "" {
		return ProcessJobOutput{}, fmt.Errorf("document %s/%s: %w", in.Table, in.DocID, util.ErrEmptyContent)
	}

	out := chunker.ChunkDocument(chunker.Input{
		DocType:     doc.DocType,
		ContentText: doc.ContentText,
		Title:       doc.Title,
		ChunkSize:   a.cfg.ChunkSize,
		Overlap:     a.cfg.ChunkOverlap,
	})
	rows := make([]models.Chunk, len(out.Chunks))
	texts := make([]string, len(out.Chunks))
	ids := make([]string, len(out.Chunks))
	for i, c := range out.Chunks {
		id := uuid.New().String()
		rows[i] = models.Chunk{
			ChunkID:     id,
			Table:       in.Table,
			DocID:       in.DocID,
			ChunkIndex:  c.Index,
			ChunkType:   c.Type,
			CharStart:   c.CharStart,
			CharEnd:     c.CharEnd,
			Content:     c.Text,
			ContentHash: c.Hash,
		}
		// The embedded text carries document-level structure, not the
		// bare chunk, so neighboring chunks stay distinguishable.
		texts[i] = embedtext.Build(doc) + "\nCHUNK: " + c.Text
		ids[i] = id
	}
	if err := a.chunkRepo.ReplaceChunks(ctx, in.Table, in.DocID, rows); err != nil {
		return ProcessJobOutput{}, err
	}

	vectors, err := a.gateway.Embed(ctx, "embed_document", texts)
	if err != nil {
		return ProcessJobOutput{}, fmt.Errorf("embed chunks for %s/%s: %w", in.Table, in.DocID, err)
	}
	if err := a.chunkRepo.UpdateEmbeddings(ctx, ids, vectors); err != nil {
		return ProcessJobOutput{}, err
	}
	if err := a.jobRepo.MarkDone(ctx, in.JobID); err != nil {
		return ProcessJobOutput{}, err
	}
	return ProcessJobOutput{ChunkCount: len(rows)}, nil
}

func (a *Activities) MarkJobFailedActivity(ctx context.Context, in MarkJobFailedInput) error {
	return a.jobRepo.MarkFailed(ctx, in.JobID, fmt.Errorf("%s", in.Reason))
}

func (a *Activities) ExtractPDFTextActivity(ctx context.Context, in ExtractPDFTextInput) (ExtractPDFTextOutput, error) {
	_ = ctx
	f, r, err := pdf.Open(in.Path)
	if err != nil {
		return ExtractPDFTextOutput{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return ExtractPDFTextOutput{}, fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return ExtractPDFTextOutput{}, fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return ExtractPDFTextOutput{}, util.ErrEmptyContent
	}

	raw, err := os.Open(in.Path)
	if err != nil {
		return ExtractPDFTextOutput{}, fmt.Errorf("hash pdf source: %w", err)
	}
	defer raw.Close()
	sum, err := util.SHA256HexFromReader(raw)
	if err != nil {
		return ExtractPDFTextOutput{}, fmt.Errorf("hash pdf source: %w", err)
	}
	return ExtractPDFTextOutput{Text: text, FileSHA256: sum}, nil
}

func (a *Activities) ExtractTxtActivity(ctx context.Context, in ExtractTxtInput) (ExtractTxtOutput, error) {
	_ = ctx
	raw, err := os.ReadFile(in.Path)
	if err != nil {
		return ExtractTxtOutput{}, fmt.Errorf("read txt source: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(string(raw)))
	if text == "" {
		return ExtractTxtOutput{}, util.ErrEmptyContent
	}
	return ExtractTxtOutput{Text: text, FileSHA256: util.SHA256Hex(raw)}, nil
}

func (a *Activities) ChunkSourceActivity(ctx context.Context, in ChunkSourceInput) (ChunkSourceOutput, error) {
	_ = ctx
	size := in.ChunkSize
	if size <= 0 {
		size = a.cfg.ChunkSize
	}
	out := chunker.ChunkDocument(chunker.Input{
		DocType:     in.DocType,
		ContentText: in.Text,
		Title:       in.Title,
		ChunkSize:   size,
		Overlap:     a.cfg.ChunkOverlap,
	})
	chunks := make([]models.Chunk, len(out.Chunks))
	for i, c := range out.Chunks {
		chunks[i] = models.Chunk{
			ChunkID:     uuid.New().String(),
			ChunkIndex:  c.Index,
			ChunkType:   c.Type,
			CharStart:   c.CharStart,
			CharEnd:     c.CharEnd,
			Content:     c.Text,
			ContentHash: c.Hash,
		}
	}
	return ChunkSourceOutput{Chunks: chunks, Strategy: out.Strategy}, nil
}

func (a *Activities) MergeSourcesActivity(ctx context.Context, in MergeSourcesInput) (MergeSourcesOutput, error) {
	_ = ctx
	merged, err := merge.MergeSources(in.A, in.B)
	if err != nil {
		return MergeSourcesOutput{}, err
	}
	return MergeSourcesOutput{Merged: merged}, nil
}

// PersistMergedActivity writes the merged document and its combined chunk
// set, stamping table and document ids onto every chunk row.
func (a *Activities) PersistMergedActivity(ctx context.Context, in PersistMergedInput) (PersistMergedOutput, error) {
	doc := models.LegalDocument{
		DocID:        in.DocID,
		Table:        in.Table,
		Title:        in.Merged.Title,
		ContentText:  in.Merged.ContentText,
		DocType:      embedtext.InferDocType("", in.Merged.Title),
		Jurisdiction: embedtext.InferJurisdiction("", ""),
		DateAdopted:  in.Merged.DateAdopted,
		SourceURL:    in.Merged.SourceURL,
		Active:       true,
	}
	if err := a.docRepo.Upsert(ctx, doc); err != nil {
		return PersistMergedOutput{}, err
	}

	rows := make([]models.Chunk, len(in.Merged.AllChunks))
	for i, c := range in.Merged.AllChunks {
		c.Table = in.Table
		c.DocID = in.DocID
		if c.ChunkID == "" {
			c.ChunkID = uuid.New().String()
		}
		rows[i] = c
	}
	if err := a.chunkRepo.ReplaceChunks(ctx, in.Table, in.DocID, rows); err != nil {
		return PersistMergedOutput{}, err
	}
	return PersistMergedOutput{ChunkCount: len(rows)}, nil
}
