// Package retrieval implements hybrid keyword + semantic search over the
// legal corpora. The engine degrades through well-defined modes instead of
// failing: semantic+keyword, keyword+rerank, keyword_only, rpc_fallback.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"lexrag/internal/models"
)

var errRerankSkipped = errors.New("too few keyword results to reorder")

const (
	ModeSemanticKeyword = "semantic+keyword"
	ModeKeywordRerank   = "keyword+rerank"
	ModeKeywordOnly     = "keyword_only"
	ModeRPCFallback     = "rpc_fallback"

	DefaultLimit = 10
	MaxLimit     = 50

	embedQueryFunction = "embed_query"
	rerankFunction     = "rerank_results"
)

// Store is the persistence side of retrieval: full-text keyword search,
// chunk vector search, and the legacy RPC fallback.
type Store interface {
	SearchKeyword(ctx context.Context, table, query, category string, limit int) ([]models.ResultItem, error)
	SearchSemantic(ctx context.Context, table string, queryVec []float32, category string, limit int) ([]models.ResultItem, error)
	SearchRPC(ctx context.Context, table, query string, limit int) ([]models.ResultItem, error)
}

// Gateway is the slice of the model gateway the engine needs.
type Gateway interface {
	Embed(ctx context.Context, function string, inputs []string) ([][]float32, error)
	CallJSON(ctx context.Context, function, userContent string) (map[string]any, error)
}

type Request struct {
	Query     string
	Tables    string
	Limit     int
	Category  string
	RequestID string
}

// Envelope is the retrieval response contract. Callers assert on the
// telemetry fields, not on result content, to tell "found nothing" apart
// from "retrieval degraded". semantic_ok mirrors rerank_ok for callers that
// still read the old field.
type Envelope struct {
	KB            []models.ResultItem `json:"kb"`
	Practice      []models.ResultItem `json:"practice"`
	RetrievalMode string              `json:"retrieval_mode"`
	RerankOK      bool                `json:"rerank_ok"`
	RerankError   string              `json:"rerank_error,omitempty"`
	SemanticOK    bool                `json:"semantic_ok"`
	SemanticError string              `json:"semantic_error,omitempty"`
	RequestID     string              `json:"request_id"`
}

type Engine struct {
	store   Store
	gateway Gateway
}

func NewEngine(store Store, gateway Gateway) *Engine {
	return &Engine{store: store, gateway: gateway}
}

// Search never returns an error: every failure degrades the envelope
// instead. A total backend outage yields empty arrays in rpc_fallback mode.
func (e *Engine) Search(ctx context.Context, req Request) Envelope {
	env := Envelope{
		KB:        []models.ResultItem{},
		Practice:  []models.ResultItem{},
		RequestID: req.RequestID,
	}
	if env.RequestID == "" {
		env.RequestID = uuid.New().String()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	tables := requestedTables(req.Tables)

	// A keyword failure on one table must not discard the other table's
	// hits, so errors are logged per table and the stage keeps going.
	keyword := make(map[string][]models.ResultItem, len(tables))
	for _, table := range tables {
		items, err := e.store.SearchKeyword(ctx, table, req.Query, req.Category, limit)
		if err != nil {
			log.Printf("retrieval %s: keyword search %s: %v", env.RequestID, table, err)
			continue
		}
		keyword[table] = items
	}

	semantic, semErr := e.semanticStage(ctx, req.Query, req.Category, tables, limit)
	if semErr == nil {
		env.RetrievalMode = ModeSemanticKeyword
		env.RerankOK = true
		env.SemanticOK = true
		for _, table := range tables {
			env.setResults(table, capLimit(fuse(semantic[table], keyword[table]), limit))
		}
		return env
	}
	log.Printf("retrieval %s: semantic stage: %v", env.RequestID, semErr)

	reranked, rerankErr := e.rerankStage(ctx, req.Query, tables, keyword)
	if rerankErr == nil {
		env.RetrievalMode = ModeKeywordRerank
		env.RerankOK = true
		env.SemanticOK = true
		for _, table := range tables {
			env.setResults(table, capLimit(reranked[table], limit))
		}
		return env
	}
	if rerankErr != nil {
		log.Printf("retrieval %s: rerank stage: %v", env.RequestID, rerankErr)
	}

	env.RerankOK = false
	env.SemanticOK = false
	env.RerankError = degradationMessage(semErr, rerankErr)
	env.SemanticError = env.RerankError

	total := 0
	for _, items := range keyword {
		total += len(items)
	}
	if total > 0 {
		env.RetrievalMode = ModeKeywordOnly
		for _, table := range tables {
			env.setResults(table, capLimit(keyword[table], limit))
		}
		return env
	}

	env.RetrievalMode = ModeRPCFallback
	for _, table := range tables {
		items, err := e.store.SearchRPC(ctx, table, req.Query, limit)
		if err != nil {
			log.Printf("retrieval %s: rpc fallback %s: %v", env.RequestID, table, err)
			continue
		}
		env.setResults(table, items)
	}
	return env
}

// semanticStage embeds the query once and runs vector search against every
// requested table. Any failure fails the whole stage.
func (e *Engine) semanticStage(ctx context.Context, query, category string, tables []string, limit int) (map[string][]models.ResultItem, error) {
	vecs, err := e.gateway.Embed(ctx, embedQueryFunction, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	out := make(map[string][]models.ResultItem, len(tables))
	for _, table := range tables {
		items, err := e.store.SearchSemantic(ctx, table, vecs[0], category, limit)
		if err != nil {
			return nil, fmt.Errorf("vector search %s: %w", table, err)
		}
		out[table] = items
	}
	return out, nil
}

// rerankStage asks the model gateway to reorder keyword results per table.
// An order that references unknown positions is treated as a failure. When
// no table has enough results to reorder, the stage reports that it did not
// run so the caller falls back to plain keyword mode.
func (e *Engine) rerankStage(ctx context.Context, query string, tables []string, keyword map[string][]models.ResultItem) (map[string][]models.ResultItem, error) {
	out := make(map[string][]models.ResultItem, len(tables))
	performed := false
	for _, table := range tables {
		items := keyword[table]
		if len(items) < 2 {
			out[table] = items
			continue
		}
		ordered, err := e.rerankOne(ctx, query, items)
		if err != nil {
			return nil, fmt.Errorf("rerank %s: %w", table, err)
		}
		performed = true
		out[table] = ordered
	}
	if !performed {
		return nil, errRerankSkipped
	}
	return out, nil
}

func (e *Engine) rerankOne(ctx context.Context, query string, items []models.ResultItem) ([]models.ResultItem, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nPassages:\n", query)
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, item.Title, item.Snippet)
	}

	resp, err := e.gateway.CallJSON(ctx, rerankFunction, b.String())
	if err != nil {
		return nil, err
	}
	rawOrder, ok := resp["order"].([]any)
	if !ok {
		return nil, fmt.Errorf("rerank response carries no order array")
	}

	ordered := make([]models.ResultItem, 0, len(items))
	seen := make(map[int]bool, len(items))
	for _, raw := range rawOrder {
		pos, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("rerank order entry %v is not a number", raw)
		}
		idx := int(pos) - 1
		if idx < 0 || idx >= len(items) || seen[idx] {
			return nil, fmt.Errorf("rerank order references invalid position %d", int(pos))
		}
		seen[idx] = true
		ordered = append(ordered, items[idx])
	}
	// Anything the model dropped keeps its keyword rank at the tail.
	for i, item := range items {
		if !seen[i] {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

func (env *Envelope) setResults(table string, items []models.ResultItem) {
	if items == nil {
		items = []models.ResultItem{}
	}
	switch table {
	case models.TableKB:
		env.KB = items
	case models.TablePractice:
		env.Practice = items
	}
}

func requestedTables(tables string) []string {
	switch tables {
	case models.TableKB:
		return []string{models.TableKB}
	case models.TablePractice:
		return []string{models.TablePractice}
	default:
		return []string{models.TableKB, models.TablePractice}
	}
}

func capLimit(items []models.ResultItem, limit int) []models.ResultItem {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func degradationMessage(semErr, rerankErr error) string {
	parts := make([]string, 0, 2)
	if semErr != nil {
		parts = append(parts, "semantic stage failed: "+semErr.Error())
	}
	if rerankErr != nil && !errors.Is(rerankErr, errRerankSkipped) {
		parts = append(parts, "rerank stage failed: "+rerankErr.Error())
	}
	return strings.Join(parts, "; ")
}
