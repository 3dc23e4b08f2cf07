package storage

import (
	"context"
	"log"

	"lexrag/internal/gateway"
)

// AuditRepo persists gateway call metadata. It implements gateway.AuditSink
// and never sees prompt or response content.
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) RecordCall(ctx context.Context, meta gateway.CallMeta) {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO gateway_calls (request_id, function_name, model, status, attempts, latency_ms, prompt_chars, output_chars, prompt_tokens, completion_tokens, err, called_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11,''), $12)`,
		meta.RequestID, meta.FunctionName, meta.Model, meta.Status, meta.Attempts,
		meta.LatencyMS, meta.PromptChars, meta.OutputChars,
		meta.PromptTokens, meta.CompletionTokens, meta.Err, meta.CalledAt)
	if err != nil {
		// Logged, not returned: an audit failure must not fail the call.
		log.Printf("record gateway call %s: %v", meta.FunctionName, err)
	}
}

// TokenUsageRepo tracks per-request token consumption for cost reporting.
type TokenUsageRepo struct {
	db *DB
}

func NewTokenUsageRepo(db *DB) *TokenUsageRepo {
	return &TokenUsageRepo{db: db}
}

func (r *TokenUsageRepo) RecordUsage(ctx context.Context, requestID, userID, function string, promptTokens, completionTokens int) {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO token_usage (request_id, user_id, function_name, prompt_tokens, completion_tokens)
VALUES ($1, $2, $3, $4, $5)`,
		requestID, userID, function, promptTokens, completionTokens)
	if err != nil {
		log.Printf("record token usage %s: %v", function, err)
	}
}
