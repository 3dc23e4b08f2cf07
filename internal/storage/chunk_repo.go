package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lexrag/internal/models"
)

const insertBatchSize = 200

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) CountChunks(ctx context.Context, table, docID string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE source_table=$1 AND doc_id=$2`,
		table, docID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks %s/%s: %w", table, docID, err)
	}
	return n, nil
}

// ReplaceChunks swaps a document's chunk set atomically: delete everything,
// then insert the new set in batches inside one transaction.
func (r *ChunkRepo) ReplaceChunks(ctx context.Context, table, docID string, chunks []models.Chunk) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx replace chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE source_table=$1 AND doc_id=$2`, table, docID); err != nil {
		return fmt.Errorf("delete old chunks %s/%s: %w", table, docID, err)
	}

	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			batch.Queue(`
INSERT INTO document_chunks (chunk_id, source_table, doc_id, chunk_index, chunk_type, char_start, char_end, content, content_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				c.ChunkID, table, docID, c.ChunkIndex, c.ChunkType, c.CharStart, c.CharEnd, c.Content, c.ContentHash)
		}
		br := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert chunk %d for %s/%s: %w", i, table, docID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close chunk batch %s/%s: %w", table, docID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks %s/%s: %w", table, docID, err)
	}
	return nil
}

// UpdateEmbeddings attaches vectors to chunks by id.
func (r *ChunkRepo) UpdateEmbeddings(ctx context.Context, chunkIDs []string, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("update embeddings: %d ids for %d vectors", len(chunkIDs), len(vectors))
	}
	batch := &pgx.Batch{}
	for i, id := range chunkIDs {
		batch.Queue(`UPDATE document_chunks SET embedding=$1::vector WHERE chunk_id=$2`,
			ToLiteral(vectors[i]), id)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunkIDs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("update chunk embedding: %w", err)
		}
	}
	return nil
}

// CountDocsMissingChunks reports how many active documents in a table still
// have no chunks at all. It drives backfill progress reporting.
func (r *ChunkRepo) CountDocsMissingChunks(ctx context.Context, table string) (int, error) {
	name, err := tableName(table)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM `+name+` d
WHERE d.active
  AND LENGTH(TRIM(d.content_text)) > 0
  AND NOT EXISTS (
    SELECT 1 FROM document_chunks c
    WHERE c.source_table=$1 AND c.doc_id=d.doc_id
  )`, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count docs missing chunks %s: %w", table, err)
	}
	return n, nil
}

func (r *ChunkRepo) ListChunksByDoc(ctx context.Context, table, docID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, source_table, doc_id, chunk_index, chunk_type, char_start, char_end, content, content_hash, created_at
FROM document_chunks
WHERE source_table=$1 AND doc_id=$2
ORDER BY chunk_index ASC`, table, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s/%s: %w", table, docID, err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0, 16)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.Table, &c.DocID, &c.ChunkIndex, &c.ChunkType,
			&c.CharStart, &c.CharEnd, &c.Content, &c.ContentHash, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
