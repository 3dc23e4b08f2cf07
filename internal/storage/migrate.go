package storage

import (
	"context"
	"fmt"
)

// Migrate applies the schema idempotently at startup. The vector and FTS
// columns are maintained here rather than in application code so keyword
// search stays consistent with whatever gets written.
func Migrate(ctx context.Context, db *DB) error {
	ddl := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS kb_documents (
  doc_id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  content_text TEXT NOT NULL DEFAULT '',
  doc_type TEXT NOT NULL DEFAULT 'other',
  jurisdiction TEXT NOT NULL DEFAULT 'AM',
  category TEXT,
  date_adopted TEXT,
  source_url TEXT,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  fts tsvector GENERATED ALWAYS AS (
    to_tsvector('simple', coalesce(title,'') || ' ' || coalesce(content_text,''))
  ) STORED,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS practice_documents (
  doc_id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  content_text TEXT NOT NULL DEFAULT '',
  doc_type TEXT NOT NULL DEFAULT 'case',
  jurisdiction TEXT NOT NULL DEFAULT 'AM',
  category TEXT,
  court_type TEXT,
  case_number TEXT,
  applied_articles TEXT[],
  holdings TEXT[],
  dispositive TEXT,
  outcome TEXT,
  date_decision TEXT,
  source_url TEXT,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  fts tsvector GENERATED ALWAYS AS (
    to_tsvector('simple', coalesce(title,'') || ' ' || coalesce(content_text,''))
  ) STORED,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS document_chunks (
  chunk_id TEXT PRIMARY KEY,
  source_table TEXT NOT NULL CHECK (source_table IN ('kb','practice')),
  doc_id TEXT NOT NULL,
  chunk_index INT NOT NULL,
  chunk_type TEXT NOT NULL DEFAULT 'section',
  char_start INT NOT NULL DEFAULT 0,
  char_end INT NOT NULL DEFAULT 0,
  content TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  embedding vector(3072),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (source_table, doc_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS retrieval_jobs (
  job_id TEXT PRIMARY KEY,
  source_table TEXT NOT NULL CHECK (source_table IN ('kb','practice')),
  doc_id TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending'
    CHECK (state IN ('pending','processing','done','failed','dead_letter')),
  attempts INT NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (source_table, doc_id)
);

CREATE TABLE IF NOT EXISTS gateway_calls (
  call_id BIGSERIAL PRIMARY KEY,
  request_id TEXT NOT NULL,
  function_name TEXT NOT NULL,
  model TEXT NOT NULL,
  status INT NOT NULL,
  attempts INT NOT NULL,
  latency_ms BIGINT NOT NULL,
  prompt_chars INT NOT NULL,
  output_chars INT NOT NULL,
  prompt_tokens INT NOT NULL DEFAULT 0,
  completion_tokens INT NOT NULL DEFAULT 0,
  err TEXT,
  called_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS token_usage (
  usage_id BIGSERIAL PRIMARY KEY,
  request_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  function_name TEXT NOT NULL,
  prompt_tokens INT NOT NULL DEFAULT 0,
  completion_tokens INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE gateway_calls ADD COLUMN IF NOT EXISTS prompt_tokens INT NOT NULL DEFAULT 0;
ALTER TABLE gateway_calls ADD COLUMN IF NOT EXISTS completion_tokens INT NOT NULL DEFAULT 0;
ALTER TABLE token_usage ADD COLUMN IF NOT EXISTS user_id TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_kb_documents_fts ON kb_documents USING GIN (fts);
CREATE INDEX IF NOT EXISTS idx_practice_documents_fts ON practice_documents USING GIN (fts);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(source_table, doc_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON retrieval_jobs(state, updated_at);
CREATE INDEX IF NOT EXISTS idx_gateway_calls_fn ON gateway_calls(function_name, called_at DESC);
`
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
