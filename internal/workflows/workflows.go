// Package workflows contains the Temporal workflows that drive long-running
// ingestion work: draining the chunk backfill backlog, processing the
// document job queue, and merging duplicate TXT/PDF sources.
package workflows

import (
	"errors"
	"path/filepath"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"lexrag/internal/activities"
	"lexrag/internal/ingest"
)

const (
	QueryBackfillProgress    = "GetBackfillProgress"
	QueryProcessJobsProgress = "GetProcessJobsProgress"

	defaultMaxBatches = 50
	defaultMaxRounds  = 20
)

// BackfillWorkflow repeatedly runs bounded backfill batches until no
// document lacks chunks or the batch ceiling is reached. Each batch is an
// independent, idempotent activity, so a retry re-does at most one batch.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (BackfillProgress, error) {
	progress := BackfillProgress{Table: input.Table}
	if err := workflow.SetQueryHandler(ctx, QueryBackfillProgress, func() (BackfillProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	maxBatches := input.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}

	for progress.Batches < maxBatches {
		var resp ingest.Response
		err := workflow.ExecuteActivity(ctx, "RunBackfillBatchActivity", ingest.Request{
			Table:      input.Table,
			ChunkSize:  input.ChunkSize,
			BatchLimit: input.BatchLimit,
		}).Get(ctx, &resp)
		if err != nil {
			return progress, err
		}
		progress.Batches++
		progress.Processed += resp.Processed
		progress.Skipped += resp.Skipped
		progress.TotalRemaining = resp.TotalRemaining

		if resp.TotalRemaining == 0 {
			break
		}
		// A batch that made no progress will not make any on repeat
		// either; bail instead of spinning on undrainable documents.
		if resp.Processed == 0 && resp.Skipped == 0 {
			break
		}
	}
	return progress, nil
}

// ProcessJobsWorkflow drains the retrieval job queue round by round. A
// failed job is recorded through MarkJobFailedActivity so the state machine
// decides between retry and dead-letter.
func ProcessJobsWorkflow(ctx workflow.Context, input ProcessJobsInput) (ProcessJobsProgress, error) {
	progress := ProcessJobsProgress{}
	if err := workflow.SetQueryHandler(ctx, QueryProcessJobsProgress, func() (ProcessJobsProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	maxRounds := input.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	for round := 0; round < maxRounds; round++ {
		var claimed activities.ClaimJobsOutput
		err := workflow.ExecuteActivity(ctx, "ClaimJobsActivity", activities.ClaimJobsInput{
			Limit: input.ClaimLimit,
		}).Get(ctx, &claimed)
		if err != nil {
			return progress, err
		}
		if len(claimed.Jobs) == 0 {
			break
		}
		progress.Claimed += len(claimed.Jobs)

		for _, job := range claimed.Jobs {
			var out activities.ProcessJobOutput
			err := workflow.ExecuteActivity(ctx, "ProcessJobActivity", activities.ProcessJobInput{
				JobID: job.JobID,
				Table: job.Table,
				DocID: job.DocID,
			}).Get(ctx, &out)
			if err == nil {
				progress.Done++
				continue
			}
			progress.Failed++
			markErr := workflow.ExecuteActivity(ctx, "MarkJobFailedActivity", activities.MarkJobFailedInput{
				JobID:  job.JobID,
				Reason: err.Error(),
			}).Get(ctx, nil)
			if markErr != nil {
				return progress, errors.Join(err, markErr)
			}
		}
	}
	return progress, nil
}

// SourceMergeWorkflow extracts both source files, chunks them, pairs them by
// the matching rules and persists the merged document.
func SourceMergeWorkflow(ctx workflow.Context, input SourceMergeInput) (SourceMergeResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var txtOut activities.ExtractTxtOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractTxtActivity", activities.ExtractTxtInput{
		Path: input.TxtPath,
	}).Get(ctx, &txtOut); err != nil {
		return SourceMergeResult{}, err
	}
	var pdfOut activities.ExtractPDFTextOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractPDFTextActivity", activities.ExtractPDFTextInput{
		Path: input.PDFPath,
	}).Get(ctx, &pdfOut); err != nil {
		return SourceMergeResult{}, err
	}

	txt := sourceFromParts(filepath.Base(input.TxtPath), "text/plain", input.SourceURL, input.Title, input.DateAdopt, txtOut.Text, txtOut.FileSHA256)
	pdf := sourceFromParts(filepath.Base(input.PDFPath), "application/pdf", input.SourceURL, input.Title, input.DateAdopt, pdfOut.Text, pdfOut.FileSHA256)

	docType := "law"
	var txtChunks activities.ChunkSourceOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkSourceActivity", activities.ChunkSourceInput{
		DocType: docType, Title: input.Title, Text: txtOut.Text, ChunkSize: input.ChunkSize,
	}).Get(ctx, &txtChunks); err != nil {
		return SourceMergeResult{}, err
	}
	var pdfChunks activities.ChunkSourceOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkSourceActivity", activities.ChunkSourceInput{
		DocType: docType, Title: input.Title, Text: pdfOut.Text, ChunkSize: input.ChunkSize,
	}).Get(ctx, &pdfChunks); err != nil {
		return SourceMergeResult{}, err
	}
	txt.Chunks = txtChunks.Chunks
	pdf.Chunks = pdfChunks.Chunks

	var merged activities.MergeSourcesOutput
	if err := workflow.ExecuteActivity(ctx, "MergeSourcesActivity", activities.MergeSourcesInput{
		Table: input.Table, A: txt, B: pdf,
	}).Get(ctx, &merged); err != nil {
		return SourceMergeResult{}, err
	}

	var persisted activities.PersistMergedOutput
	if err := workflow.ExecuteActivity(ctx, "PersistMergedActivity", activities.PersistMergedInput{
		Table: input.Table, DocID: input.DocID, Merged: merged.Merged,
	}).Get(ctx, &persisted); err != nil {
		return SourceMergeResult{}, err
	}

	return SourceMergeResult{
		DocID:      input.DocID,
		MatchRule:  merged.Merged.MatchRule,
		ChunkCount: persisted.ChunkCount,
	}, nil
}
