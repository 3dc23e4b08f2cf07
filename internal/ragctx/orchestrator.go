// Package ragctx is the single consumer-facing wrapper around the retrieval
// engine. Document generation and case analysis go through it, never through
// the engine directly, so context budgets and usage telemetry are enforced
// in one place.
package ragctx

import (
	"context"
	"log"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"lexrag/internal/models"
	"lexrag/internal/retrieval"
)

// Profile names the caller category; each carries its own context budget.
const (
	ProfileDocument = "document"
	ProfileAnalysis = "analysis"
)

type SearchEngine interface {
	Search(ctx context.Context, req retrieval.Request) retrieval.Envelope
}

// UsageSink receives one entry per orchestrated call for cost reporting.
type UsageSink interface {
	RecordUsage(ctx context.Context, requestID, userID, function string, promptTokens, completionTokens int)
}

type Orchestrator struct {
	engine         SearchEngine
	usage          UsageSink
	documentBudget int
	analysisBudget int
}

func NewOrchestrator(engine SearchEngine, usage UsageSink, documentBudget, analysisBudget int) *Orchestrator {
	return &Orchestrator{
		engine:         engine,
		usage:          usage,
		documentBudget: documentBudget,
		analysisBudget: analysisBudget,
	}
}

// Result is a budget-fitted retrieval outcome: the raw envelope plus the
// context sections that survived allocation.
type Result struct {
	Envelope retrieval.Envelope
	Sections []Section
}

func (o *Orchestrator) SearchKB(ctx context.Context, query, profile, userFacts, requestID, userID string) Result {
	return o.search(ctx, retrieval.Request{
		Query: query, Tables: models.TableKB, RequestID: requestID,
	}, profile, userFacts, "search_kb", userID)
}

func (o *Orchestrator) SearchPractice(ctx context.Context, query, profile, userFacts, requestID, userID string) Result {
	return o.search(ctx, retrieval.Request{
		Query: query, Tables: models.TablePractice, RequestID: requestID,
	}, profile, userFacts, "search_practice", userID)
}

// DualSearch runs both corpora concurrently and merges the envelopes under
// a single budget allocation.
func (o *Orchestrator) DualSearch(ctx context.Context, query, profile, userFacts, requestID, userID string) Result {
	var kbEnv, prEnv retrieval.Envelope
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kbEnv = o.engine.Search(gctx, retrieval.Request{
			Query: query, Tables: models.TableKB, RequestID: requestID,
		})
		return nil
	})
	g.Go(func() error {
		prEnv = o.engine.Search(gctx, retrieval.Request{
			Query: query, Tables: models.TablePractice, RequestID: requestID,
		})
		return nil
	})
	// Search never errors; the group only coordinates completion.
	_ = g.Wait()

	merged := kbEnv
	merged.Practice = prEnv.Practice
	if !prEnv.RerankOK {
		merged.RerankOK = false
		merged.SemanticOK = false
		if merged.RerankError == "" {
			merged.RerankError = prEnv.RerankError
			merged.SemanticError = prEnv.SemanticError
		}
	}
	if worse(prEnv.RetrievalMode, kbEnv.RetrievalMode) {
		merged.RetrievalMode = prEnv.RetrievalMode
	}
	return o.finish(ctx, merged, profile, userFacts, "dual_search", userID)
}

func (o *Orchestrator) search(ctx context.Context, req retrieval.Request, profile, userFacts, function, userID string) Result {
	env := o.engine.Search(ctx, req)
	return o.finish(ctx, env, profile, userFacts, function, userID)
}

func (o *Orchestrator) finish(ctx context.Context, env retrieval.Envelope, profile, userFacts, function, userID string) Result {
	sections := buildSections(env, userFacts)
	budget := o.budgetFor(profile)
	fitted := AllocateBudget(sections, budget)

	promptChars := 0
	for _, s := range fitted {
		promptChars += utf8.RuneCountInString(s.Text)
	}
	if o.usage != nil {
		// Rough chars-per-token estimate; exact counts come from the
		// gateway audit trail.
		o.usage.RecordUsage(ctx, env.RequestID, userID, function, promptChars/4, 0)
	}
	log.Printf("ragctx %s: %s mode=%s sections=%d budget=%d", env.RequestID, function, env.RetrievalMode, len(fitted), budget)

	return Result{Envelope: env, Sections: fitted}
}

func (o *Orchestrator) budgetFor(profile string) int {
	if profile == ProfileAnalysis {
		return o.analysisBudget
	}
	return o.documentBudget
}

// buildSections weights user facts above retrieved content so trimming
// reaches them last.
func buildSections(env retrieval.Envelope, userFacts string) []Section {
	sections := make([]Section, 0, 3)
	if userFacts != "" {
		sections = append(sections, Section{Name: "user_facts", Text: userFacts, Score: 1, Weight: 2})
	}
	if text := joinResults(env.KB); text != "" {
		sections = append(sections, Section{Name: "legislation", Text: text, Score: topScore(env.KB), Weight: 1})
	}
	if text := joinResults(env.Practice); text != "" {
		sections = append(sections, Section{Name: "practice", Text: text, Score: topScore(env.Practice), Weight: 1})
	}
	return sections
}

func joinResults(items []models.ResultItem) string {
	out := ""
	for _, item := range items {
		out += item.Title + "\n" + item.Snippet + "\n\n"
	}
	return out
}

func topScore(items []models.ResultItem) float64 {
	if len(items) == 0 {
		return 0
	}
	return items[0].Score
}

// worse orders retrieval modes from healthiest to most degraded.
func worse(a, b string) bool {
	return modeRank(a) > modeRank(b)
}

func modeRank(mode string) int {
	switch mode {
	case retrieval.ModeSemanticKeyword:
		return 0
	case retrieval.ModeKeywordRerank:
		return 1
	case retrieval.ModeKeywordOnly:
		return 2
	default:
		return 3
	}
}
