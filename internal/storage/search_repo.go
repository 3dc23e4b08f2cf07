package storage

import (
	"context"
	"fmt"

	"lexrag/internal/models"
	"lexrag/internal/util"
)

// SearchRepo runs the three retrieval primitives against one corpus table:
// Postgres full-text keyword search, pgvector chunk similarity, and the
// legacy search_documents SQL function used as a last-resort fallback.
type SearchRepo struct {
	db *DB
}

func NewSearchRepo(db *DB) *SearchRepo {
	return &SearchRepo{db: db}
}

const (
	snippetChars = 420
	// snippetSourceChars is how much document text the queries pull back so
	// the snippet can be picked around the query terms instead of always
	// being the document prefix.
	snippetSourceChars = 4000
)

// evidenceSnippets replaces each item's raw text window with the sentences
// most relevant to the query.
func evidenceSnippets(items []models.ResultItem, query string) []models.ResultItem {
	for i := range items {
		items[i].Snippet = util.EvidenceSnippet(items[i].Snippet, query, snippetChars)
	}
	return items
}

func displaySnippets(items []models.ResultItem) []models.ResultItem {
	for i := range items {
		items[i].Snippet = util.DisplaySnippet(items[i].Snippet, snippetChars)
	}
	return items
}

// SearchKeyword ranks whole documents with websearch_to_tsquery over the
// 'simple' configuration. 'simple' avoids language stemming, which matters
// for Armenian text that no built-in dictionary covers.
func (r *SearchRepo) SearchKeyword(ctx context.Context, table, query, category string, limit int) ([]models.ResultItem, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	sql := `
SELECT doc_id, title, LEFT(content_text, $3) AS snippet,
       ts_rank(fts, websearch_to_tsquery('simple', $1)) AS score
FROM ` + name + `
WHERE active AND fts @@ websearch_to_tsquery('simple', $1)`
	args := []any{query, limit, snippetSourceChars}
	if category != "" {
		sql += ` AND category=$4`
		args = append(args, category)
	}
	sql += `
ORDER BY score DESC
LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search %s: %w", table, err)
	}
	defer rows.Close()
	items, err := scanResults(rows, limit)
	if err != nil {
		return nil, err
	}
	return evidenceSnippets(items, query), nil
}

// SearchSemantic ranks documents by their closest chunk to the query vector.
func (r *SearchRepo) SearchSemantic(ctx context.Context, table string, queryVec []float32, category string, limit int) ([]models.ResultItem, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	sql := `
SELECT d.doc_id, d.title, LEFT(best.content, $4) AS snippet, best.score
FROM ` + name + ` d
JOIN LATERAL (
  SELECT c.content, 1 - (c.embedding <=> $1::vector) AS score
  FROM document_chunks c
  WHERE c.source_table=$2 AND c.doc_id=d.doc_id AND c.embedding IS NOT NULL
  ORDER BY c.embedding <=> $1::vector
  LIMIT 1
) best ON TRUE
WHERE d.active`
	args := []any{ToLiteral(queryVec), table, limit, snippetSourceChars}
	if category != "" {
		sql += ` AND d.category=$5`
		args = append(args, category)
	}
	sql += `
ORDER BY best.score DESC
LIMIT $3`

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search %s: %w", table, err)
	}
	defer rows.Close()
	items, err := scanResults(rows, limit)
	if err != nil {
		return nil, err
	}
	return displaySnippets(items), nil
}

// SearchRPC calls the legacy search_documents SQL function. Kept as the
// fallback of last resort so retrieval still answers when both first-class
// paths are broken.
func (r *SearchRepo) SearchRPC(ctx context.Context, table, query string, limit int) ([]models.ResultItem, error) {
	if _, err := tableName(table); err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, title, snippet, score FROM search_documents($1, $2, $3)`,
		table, query, limit)
	if err != nil {
		return nil, fmt.Errorf("rpc search %s: %w", table, err)
	}
	defer rows.Close()
	items, err := scanResults(rows, limit)
	if err != nil {
		return nil, err
	}
	return displaySnippets(items), nil
}

type resultRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanResults(rows resultRows, limit int) ([]models.ResultItem, error) {
	out := make([]models.ResultItem, 0, limit)
	for rows.Next() {
		var item models.ResultItem
		if err := rows.Scan(&item.DocID, &item.Title, &item.Snippet, &item.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return out, nil
}
