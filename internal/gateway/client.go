package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lexrag/internal/util"
)

const (
	defaultMaxRetries   = 2
	retryBaseDelay      = 500 * time.Millisecond
	retryJitterCeiling  = 300 * time.Millisecond
	transcriptionField  = "file"
	defaultTimeoutSecs  = 60
	maxErrorBodySnippet = 256
)

// CallMeta is the metadata recorded about every upstream call. Prompt and
// response content never appears here.
type CallMeta struct {
	RequestID        string
	FunctionName     string
	Model            string
	Status           int
	Attempts         int
	LatencyMS        int64
	PromptChars      int
	OutputChars      int
	PromptTokens     int
	CompletionTokens int
	Err              string
	CalledAt         time.Time
}

// AuditSink records call metadata. Implementations must not block the
// request path longer than a single write.
type AuditSink interface {
	RecordCall(ctx context.Context, meta CallMeta)
}

// Client talks to the upstream model API. All parameters come from the
// registry; callers pass only the function name and their content.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	registry   *Registry
	maxRetries int
	audit      AuditSink
	// sleep is swappable in tests.
	sleep func(time.Duration)
}

type Option func(*Client)

func WithAuditSink(s AuditSink) Option {
	return func(c *Client) { c.audit = s }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func NewClient(baseURL, apiKey string, registry *Registry, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		registry:   registry,
		maxRetries: defaultMaxRetries,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// usageEnvelope is the token-usage block both the chat and embeddings
// endpoints report.
type usageEnvelope struct {
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// CallText runs a chat function and returns the raw assistant text.
func (c *Client) CallText(ctx context.Context, function, userContent string) (string, error) {
	fn, err := c.registry.Lookup(function)
	if err != nil {
		return "", err
	}
	if fn.Kind != KindChat {
		return "", fmt.Errorf("function %q is %s, not chat", function, fn.Kind)
	}
	return c.chat(ctx, fn, userContent)
}

// CallJSON runs a chat function whose declared schema is non-empty. The
// response is fence-stripped and parsed; a malformed response is sent back
// to the model exactly once with a fix-the-JSON instruction, then parsed
// again. A second failure is terminal. The result is normalized against the
// declared keys.
func (c *Client) CallJSON(ctx context.Context, function, userContent string) (map[string]any, error) {
	fn, err := c.registry.Lookup(function)
	if err != nil {
		return nil, err
	}
	if fn.Kind != KindChat {
		return nil, fmt.Errorf("function %q is %s, not chat", function, fn.Kind)
	}
	raw, err := c.chat(ctx, fn, userContent)
	if err != nil {
		return nil, err
	}

	cleaned := StripFences(raw)
	var parsed map[string]any
	if jsonErr := json.Unmarshal([]byte(cleaned), &parsed); jsonErr != nil {
		repaired, repErr := c.chat(ctx, fn, repairPrompt(cleaned))
		if repErr != nil {
			return nil, fmt.Errorf("function %q repair call: %w", function, repErr)
		}
		if jsonErr := json.Unmarshal([]byte(StripFences(repaired)), &parsed); jsonErr != nil {
			return nil, fmt.Errorf("function %q response after repair: %w", function, util.ErrMalformedJSON)
		}
	}
	return ValidateSchema(parsed, fn.JSONSchema), nil
}

func repairPrompt(malformed string) string {
	return "The previous reply was not valid JSON. Fix the JSON and respond with only the corrected object, nothing else.\n\n" + malformed
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, function string, inputs []string) ([][]float32, error) {
	fn, err := c.registry.Lookup(function)
	if err != nil {
		return nil, err
	}
	if fn.Kind != KindEmbedding {
		return nil, fmt.Errorf("function %q is %s, not embedding", function, fn.Kind)
	}
	if len(inputs) == 0 {
		return nil, util.ErrEmptyContent
	}

	body, err := json.Marshal(embedRequest{Model: fn.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	promptChars := 0
	for _, in := range inputs {
		promptChars += len(in)
	}

	respBody, err := c.do(ctx, fn, "/v1/embeddings", "application/json", body, promptChars)
	if err != nil {
		return nil, err
	}
	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(parsed.Data), len(inputs))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// CallTranscription uploads audio and returns the transcript text.
func (c *Client) CallTranscription(ctx context.Context, function, fileName string, audio io.Reader) (string, error) {
	fn, err := c.registry.Lookup(function)
	if err != nil {
		return "", err
	}
	if fn.Kind != KindTranscription {
		return "", fmt.Errorf("function %q is %s, not transcription", function, fn.Kind)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(transcriptionField, fileName)
	if err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio into form: %w", err)
	}
	if err := mw.WriteField("model", fn.Model); err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close transcription form: %w", err)
	}

	respBody, err := c.do(ctx, fn, "/v1/audio/transcriptions", mw.FormDataContentType(), buf.Bytes(), buf.Len())
	if err != nil {
		return "", err
	}
	var parsed transcriptionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}

func (c *Client) chat(ctx context.Context, fn FunctionConfig, userContent string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if fn.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: fn.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userContent})

	body, err := json.Marshal(chatRequest{
		Model:       fn.Model,
		Messages:    msgs,
		Temperature: fn.Temperature,
		MaxTokens:   fn.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	respBody, err := c.do(ctx, fn, "/v1/chat/completions", "application/json", body, len(userContent))
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response for %q carries no choices", fn.Name)
	}
	return parsed.Choices[0].Message.Content, nil
}

// do sends the request with bounded retries. Only 429, 5xx and transport
// errors are retried; everything else fails immediately.
func (c *Client) do(ctx context.Context, fn FunctionConfig, path, contentType string, body []byte, promptChars int) ([]byte, error) {
	requestID := uuid.New().String()
	timeout := time.Duration(fn.TimeoutSecs) * time.Second
	if fn.TimeoutSecs <= 0 {
		timeout = defaultTimeoutSecs * time.Second
	}

	meta := CallMeta{
		RequestID:    requestID,
		FunctionName: fn.Name,
		Model:        fn.Model,
		PromptChars:  promptChars,
		CalledAt:     time.Now().UTC(),
	}
	start := time.Now()
	defer func() {
		meta.LatencyMS = time.Since(start).Milliseconds()
		if c.audit != nil {
			c.audit.RecordCall(ctx, meta)
		}
	}()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		meta.Attempts = attempt + 1
		if attempt > 0 {
			c.sleep(backoffDelay(attempt))
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		respBody, status, err := c.once(callCtx, path, contentType, body, requestID)
		cancel()

		if err == nil && status < 400 {
			meta.Status = status
			meta.OutputChars = len(respBody)
			var u usageEnvelope
			if json.Unmarshal(respBody, &u) == nil {
				meta.PromptTokens = u.Usage.PromptTokens
				meta.CompletionTokens = u.Usage.CompletionTokens
			}
			return respBody, nil
		}

		meta.Status = status
		switch {
		case err != nil:
			lastErr = fmt.Errorf("call %s %s: %w", fn.Name, path, err)
		case status == http.StatusPaymentRequired:
			meta.Err = "quota exhausted"
			return nil, fmt.Errorf("call %s: upstream status 402: %w", fn.Name, util.ErrQuotaExhausted)
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("call %s: upstream status 429: %w", fn.Name, util.ErrRateLimited)
		case status >= 500:
			lastErr = fmt.Errorf("call %s: upstream status %d: %s", fn.Name, status, truncateASCII(respBody, maxErrorBodySnippet))
		default:
			meta.Err = fmt.Sprintf("status %d", status)
			return nil, fmt.Errorf("call %s: upstream status %d: %s", fn.Name, status, truncateASCII(respBody, maxErrorBodySnippet))
		}
	}
	meta.Err = lastErr.Error()
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, path, contentType string, body []byte, requestID string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func backoffDelay(attempt int) time.Duration {
	base := retryBaseDelay * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int63n(int64(retryJitterCeiling)))
	return base + jitter
}

func truncateASCII(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n]
	}
	return s
}
