// Package gateway is the single egress point to upstream model providers.
// Every call goes through a named function from an immutable registry;
// callers never assemble model parameters themselves.
package gateway

import (
	"fmt"

	"lexrag/internal/util"
)

// FunctionConfig pins every model parameter for one named operation.
type FunctionConfig struct {
	Name         string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TimeoutSecs  int
	// JSONSchema lists the top-level keys a JSON-mode response must carry.
	// Empty means the function returns plain text.
	JSONSchema []string
	// Kind selects the upstream endpoint: chat, embedding or transcription.
	Kind string
}

const (
	KindChat          = "chat"
	KindEmbedding     = "embedding"
	KindTranscription = "transcription"
)

// Registry maps function names to configs. It is built once at startup and
// never mutated afterwards.
type Registry struct {
	functions map[string]FunctionConfig
}

func NewRegistry(configs []FunctionConfig) *Registry {
	m := make(map[string]FunctionConfig, len(configs))
	for _, c := range configs {
		m[c.Name] = c
	}
	return &Registry{functions: m}
}

// Lookup fails fast on unknown names so misconfigured call sites surface
// immediately rather than hitting the upstream with defaults.
func (r *Registry) Lookup(name string) (FunctionConfig, error) {
	c, ok := r.functions[name]
	if !ok {
		return FunctionConfig{}, fmt.Errorf("lookup gateway function %q: %w", name, util.ErrUnknownFunction)
	}
	return c, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	return names
}

const (
	defaultGatewayTimeoutSecs       = 60
	defaultTranscriptionTimeoutSecs = 120
)

// DefaultRegistry covers every operation the service performs against the
// model gateway. Per-function timeouts scale from the configured base so one
// knob tunes the whole registry; zero picks the defaults.
func DefaultRegistry(gatewayTimeoutSecs, transcriptionTimeoutSecs int) *Registry {
	base := gatewayTimeoutSecs
	if base <= 0 {
		base = defaultGatewayTimeoutSecs
	}
	transcription := transcriptionTimeoutSecs
	if transcription <= 0 {
		transcription = defaultTranscriptionTimeoutSecs
	}
	return NewRegistry([]FunctionConfig{
		{
			Name:        "embed_query",
			Model:       "text-embedding-3-large",
			Kind:        KindEmbedding,
			TimeoutSecs: base / 2,
		},
		{
			Name:        "embed_document",
			Model:       "text-embedding-3-large",
			Kind:        KindEmbedding,
			TimeoutSecs: base,
		},
		{
			Name:         "rerank_results",
			Model:        "gpt-4o-mini",
			Kind:         KindChat,
			SystemPrompt: "Rank the numbered passages by relevance to the query. Respond with JSON.",
			Temperature:  0,
			MaxTokens:    512,
			TimeoutSecs:  base / 2,
			JSONSchema:   []string{"order", "reason"},
		},
		{
			Name:         "generate_document",
			Model:        "gpt-4o",
			Kind:         KindChat,
			SystemPrompt: "You draft Armenian legal documents. Respond with JSON.",
			Temperature:  0.3,
			MaxTokens:    4096,
			TimeoutSecs:  2 * base,
			JSONSchema:   []string{"title", "body", "citations"},
		},
		{
			Name:         "analyze_case",
			Model:        "gpt-4o",
			Kind:         KindChat,
			SystemPrompt: "You analyze Armenian court practice. Respond with JSON.",
			Temperature:  0.2,
			MaxTokens:    2048,
			TimeoutSecs:  base + base/2,
			JSONSchema:   []string{"summary", "applied_articles", "outcome"},
		},
		{
			Name:        "transcribe_audio",
			Model:       "whisper-1",
			Kind:        KindTranscription,
			TimeoutSecs: transcription,
		},
	})
}
