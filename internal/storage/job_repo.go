package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"lexrag/internal/jobs"
	"lexrag/internal/models"
)

type JobRepo struct {
	db          *DB
	retryBudget int
}

func NewJobRepo(db *DB, retryBudget int) *JobRepo {
	if retryBudget <= 0 {
		retryBudget = jobs.DefaultRetryBudget
	}
	return &JobRepo{db: db, retryBudget: retryBudget}
}

// Enqueue creates a pending job for a document, or resets an existing
// terminal job on the same document back to pending.
func (r *JobRepo) Enqueue(ctx context.Context, table, docID string) (models.RetrievalJob, error) {
	job := models.RetrievalJob{
		JobID: uuid.New().String(),
		Table: table,
		DocID: docID,
		State: string(jobs.StatePending),
	}
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO retrieval_jobs (job_id, source_table, doc_id, state)
VALUES ($1, $2, $3, 'pending')
ON CONFLICT (source_table, doc_id)
DO UPDATE SET state='pending', attempts=0, last_error=NULL, updated_at=NOW()
WHERE retrieval_jobs.state IN ('done','failed','dead_letter')
RETURNING job_id, attempts, created_at, updated_at`,
		job.JobID, table, docID).Scan(&job.JobID, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RetrievalJob{}, fmt.Errorf("enqueue job %s/%s: already in flight", table, docID)
	}
	if err != nil {
		return models.RetrievalJob{}, fmt.Errorf("enqueue job %s/%s: %w", table, docID, err)
	}
	return job, nil
}

// Claim moves up to limit pending jobs to processing and returns them.
// SKIP LOCKED keeps concurrent workers from claiming the same job.
func (r *JobRepo) Claim(ctx context.Context, limit int) ([]models.RetrievalJob, error) {
	rows, err := r.db.Pool.Query(ctx, `
UPDATE retrieval_jobs
SET state='processing', updated_at=NOW()
WHERE job_id IN (
  SELECT job_id FROM retrieval_jobs
  WHERE state='pending'
  ORDER BY created_at ASC
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
RETURNING job_id, source_table, doc_id, state, attempts, COALESCE(last_error,''), created_at, updated_at`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	out := make([]models.RetrievalJob, 0, limit)
	for rows.Next() {
		var j models.RetrievalJob
		if err := rows.Scan(&j.JobID, &j.Table, &j.DocID, &j.State, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepo) MarkDone(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, jobs.StateDone, "")
}

// MarkFailed bumps the attempt count and either parks the job as failed or
// dead-letters it once the retry budget is exhausted.
func (r *JobRepo) MarkFailed(ctx context.Context, jobID string, cause error) error {
	var attempts int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT attempts FROM retrieval_jobs WHERE job_id=$1`, jobID).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("load job %s attempts: %w", jobID, err)
	}

	attempts++
	next := jobs.NextOnFailure(attempts, r.retryBudget)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE retrieval_jobs
SET state=$2, attempts=$3, last_error=NULLIF($4,''), updated_at=NOW()
WHERE job_id=$1 AND state='processing'`,
		jobID, string(next), attempts, msg)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	return nil
}

// Retry moves a failed job back to processing for another attempt.
func (r *JobRepo) Retry(ctx context.Context, jobID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE retrieval_jobs SET state='processing', updated_at=NOW()
WHERE job_id=$1 AND state='failed'`, jobID)
	if err != nil {
		return fmt.Errorf("retry job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("retry job %s: not in failed state", jobID)
	}
	return nil
}

// ResetDeadLetter is the operator escape hatch: dead_letter back to pending
// with a fresh attempt budget.
func (r *JobRepo) ResetDeadLetter(ctx context.Context, jobID string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE retrieval_jobs
SET state='pending', attempts=0, last_error=NULL, updated_at=NOW()
WHERE job_id=$1 AND state='dead_letter'`, jobID)
	if err != nil {
		return fmt.Errorf("reset dead-letter job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reset dead-letter job %s: not in dead_letter state", jobID)
	}
	return nil
}

func (r *JobRepo) ListByState(ctx context.Context, state string, limit int) ([]models.RetrievalJob, error) {
	if state != "" && !jobs.Valid(jobs.State(state)) {
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	query := `
SELECT job_id, source_table, doc_id, state, attempts, COALESCE(last_error,''), created_at, updated_at
FROM retrieval_jobs`
	args := []any{limit}
	if state != "" {
		query += ` WHERE state=$2`
		args = append(args, state)
	}
	query += ` ORDER BY updated_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]models.RetrievalJob, 0, limit)
	for rows.Next() {
		var j models.RetrievalJob
		if err := rows.Scan(&j.JobID, &j.Table, &j.DocID, &j.State, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepo) transition(ctx context.Context, jobID string, to jobs.State, lastError string) error {
	var current string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT state FROM retrieval_jobs WHERE job_id=$1`, jobID).Scan(&current)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if err := jobs.Transition(jobs.State(current), to); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	_, err = r.db.Pool.Exec(ctx, `
UPDATE retrieval_jobs SET state=$2, last_error=NULLIF($3,''), updated_at=NOW()
WHERE job_id=$1`, jobID, string(to), lastError)
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", jobID, to, err)
	}
	return nil
}
