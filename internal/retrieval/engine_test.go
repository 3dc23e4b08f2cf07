package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"lexrag/internal/models"
)

type fakeStore struct {
	keyword     map[string][]models.ResultItem
	keywordErr  error
	keywordErrs map[string]error
	semantic    map[string][]models.ResultItem
	semanticErr error
	rpc         map[string][]models.ResultItem
	rpcErr      error
	rpcCalls    int
}

func (s *fakeStore) SearchKeyword(_ context.Context, table, _, _ string, _ int) ([]models.ResultItem, error) {
	if s.keywordErr != nil {
		return nil, s.keywordErr
	}
	if err := s.keywordErrs[table]; err != nil {
		return nil, err
	}
	return s.keyword[table], nil
}

func (s *fakeStore) SearchSemantic(_ context.Context, table string, _ []float32, _ string, _ int) ([]models.ResultItem, error) {
	if s.semanticErr != nil {
		return nil, s.semanticErr
	}
	return s.semantic[table], nil
}

func (s *fakeStore) SearchRPC(_ context.Context, table, _ string, _ int) ([]models.ResultItem, error) {
	s.rpcCalls++
	if s.rpcErr != nil {
		return nil, s.rpcErr
	}
	return s.rpc[table], nil
}

type fakeGateway struct {
	embedErr    error
	rerankErr   error
	rerankOrder []any
}

func (g *fakeGateway) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (g *fakeGateway) CallJSON(_ context.Context, _, _ string) (map[string]any, error) {
	if g.rerankErr != nil {
		return nil, g.rerankErr
	}
	return map[string]any{"order": g.rerankOrder, "reason": nil}, nil
}

func item(id string) models.ResultItem {
	return models.ResultItem{DocID: id, Title: "title " + id, Snippet: "snippet " + id}
}

func TestSearchSemanticKeywordMode(t *testing.T) {
	store := &fakeStore{
		keyword:  map[string][]models.ResultItem{models.TableKB: {item("k1"), item("k2")}},
		semantic: map[string][]models.ResultItem{models.TableKB: {item("s1"), item("k1")}},
	}
	env := NewEngine(store, &fakeGateway{}).Search(context.Background(), Request{
		Query: "հարկային պարտավորություն", Tables: models.TableKB, Limit: 10,
	})

	require.Equal(t, ModeSemanticKeyword, env.RetrievalMode)
	require.True(t, env.RerankOK)
	require.True(t, env.SemanticOK)
	require.Empty(t, env.RerankError)
	// semantic order first, keyword-only tail
	require.Equal(t, "s1", env.KB[0].DocID)
	require.Equal(t, "k1", env.KB[1].DocID)
	require.Equal(t, "k2", env.KB[2].DocID)
	// k1 appears in both rankings and must outscore single-list hits
	require.Greater(t, env.KB[1].Score, env.KB[0].Score)
	require.Empty(t, env.Practice)
}

func TestSearchKeywordRerankMode(t *testing.T) {
	store := &fakeStore{
		keyword: map[string][]models.ResultItem{models.TableKB: {item("a"), item("b"), item("c")}},
	}
	gw := &fakeGateway{embedErr: errors.New("upstream status 503"), rerankOrder: []any{3.0, 1.0, 2.0}}
	env := NewEngine(store, gw).Search(context.Background(), Request{Query: "q", Tables: models.TableKB})

	require.Equal(t, ModeKeywordRerank, env.RetrievalMode)
	require.True(t, env.RerankOK)
	require.True(t, env.SemanticOK)
	require.Equal(t, "c", env.KB[0].DocID)
	require.Equal(t, "a", env.KB[1].DocID)
	require.Equal(t, "b", env.KB[2].DocID)
}

func TestSearchDegradesToKeywordOnly(t *testing.T) {
	store := &fakeStore{
		keyword: map[string][]models.ResultItem{
			models.TableKB: {{DocID: "doc-1", Title: "Քաղաքացիական օրենսգիրք"}},
		},
	}
	gw := &fakeGateway{embedErr: errors.New("embed: upstream status 502")}
	env := NewEngine(store, gw).Search(context.Background(), Request{
		Query: "Քաղաքացիական", Tables: models.TableKB,
	})

	require.Equal(t, ModeKeywordOnly, env.RetrievalMode)
	require.False(t, env.RerankOK)
	require.False(t, env.SemanticOK)
	require.Contains(t, env.RerankError, "status 502")
	require.Equal(t, env.RerankError, env.SemanticError)
	require.Len(t, env.KB, 1)
	require.Equal(t, "doc-1", env.KB[0].DocID)
}

func TestSearchKeywordOnlySurvivesOneTableFailing(t *testing.T) {
	store := &fakeStore{
		keyword: map[string][]models.ResultItem{
			models.TableKB: {{DocID: "doc-1", Title: "Հարկային օրենսգիրք"}},
		},
		keywordErrs: map[string]error{models.TablePractice: errors.New("connection refused")},
	}
	gw := &fakeGateway{embedErr: errors.New("upstream status 503")}
	env := NewEngine(store, gw).Search(context.Background(), Request{Query: "հարկ", Tables: models.TableBoth})

	require.Equal(t, ModeKeywordOnly, env.RetrievalMode)
	require.Len(t, env.KB, 1)
	require.Equal(t, "doc-1", env.KB[0].DocID)
	require.Empty(t, env.Practice)
	require.Zero(t, store.rpcCalls)
}

func TestSearchTotalOutageStillAnswers(t *testing.T) {
	store := &fakeStore{
		keywordErr: errors.New("connection refused"),
		rpcErr:     errors.New("connection refused"),
	}
	gw := &fakeGateway{embedErr: errors.New("upstream status 500")}
	env := NewEngine(store, gw).Search(context.Background(), Request{Query: "q", Tables: models.TableBoth})

	require.Equal(t, ModeRPCFallback, env.RetrievalMode)
	require.False(t, env.RerankOK)
	require.NotNil(t, env.KB)
	require.NotNil(t, env.Practice)
	require.Empty(t, env.KB)
	require.Empty(t, env.Practice)
	require.NotEmpty(t, env.RequestID)

	// arrays must serialize as [], not null
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"kb":[]`)
	require.Contains(t, string(raw), `"practice":[]`)
}

func TestSearchRPCFallbackWhenKeywordEmpty(t *testing.T) {
	store := &fakeStore{
		rpc: map[string][]models.ResultItem{models.TableKB: {item("rpc-1")}},
	}
	gw := &fakeGateway{embedErr: errors.New("upstream status 503")}
	env := NewEngine(store, gw).Search(context.Background(), Request{Query: "q", Tables: models.TableKB})

	require.Equal(t, ModeRPCFallback, env.RetrievalMode)
	require.Equal(t, "rpc-1", env.KB[0].DocID)
	require.Positive(t, store.rpcCalls)
}

func TestSearchEchoesRequestID(t *testing.T) {
	store := &fakeStore{semantic: map[string][]models.ResultItem{}, keyword: map[string][]models.ResultItem{}}
	env := NewEngine(store, &fakeGateway{}).Search(context.Background(), Request{
		Query: "q", Tables: models.TableKB, RequestID: "req-abc-123",
	})
	require.Equal(t, "req-abc-123", env.RequestID)
}

func TestRerankRejectsInvalidOrder(t *testing.T) {
	items := []models.ResultItem{item("a"), item("b")}
	gw := &fakeGateway{rerankOrder: []any{5.0, 1.0}}
	e := NewEngine(&fakeStore{}, gw)
	_, err := e.rerankOne(context.Background(), "q", items)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid position")
}

func TestRerankKeepsDroppedItemsAtTail(t *testing.T) {
	items := []models.ResultItem{item("a"), item("b"), item("c")}
	gw := &fakeGateway{rerankOrder: []any{2.0}}
	e := NewEngine(&fakeStore{}, gw)
	ordered, err := e.rerankOne(context.Background(), "q", items)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, []string{ordered[0].DocID, ordered[1].DocID, ordered[2].DocID})
}

func TestLimitIsClamped(t *testing.T) {
	many := make([]models.ResultItem, 30)
	for i := range many {
		many[i] = item(string(rune('a' + i)))
	}
	store := &fakeStore{keyword: map[string][]models.ResultItem{models.TableKB: many},
		semantic: map[string][]models.ResultItem{models.TableKB: many}}
	env := NewEngine(store, &fakeGateway{}).Search(context.Background(), Request{
		Query: "q", Tables: models.TableKB, Limit: 5,
	})
	require.Len(t, env.KB, 5)
}
