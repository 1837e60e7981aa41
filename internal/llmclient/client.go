package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
)

// ErrSchemaViolation is returned when a provider's response, after retries,
// still cannot be decoded into the caller's expected shape.
var ErrSchemaViolation = errors.New("llmclient: response does not conform to schema")

const (
	defaultMaxRetries  = 3
	defaultRetryBase   = 500 * time.Millisecond
	lowReliabilityKind = "local"
)

// Reliability classifies a backend for the purposes of the retry policy.
// Cloud providers get a single attempt; local/low-reliability backends
// retry up to defaultMaxRetries times with exponential backoff.
type Reliability string

const (
	ReliabilityCloud Reliability = "cloud"
	ReliabilityLocal Reliability = lowReliabilityKind
)

// Request describes one schema-constrained completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	// Schema is the JSON Schema the response must conform to. It is offered
	// to the provider as a single tool definition when the provider supports
	// native tool calling, and injected into the system prompt as a
	// JSON-mode instruction otherwise.
	Schema map[string]any

	// SchemaName names the tool/schema for providers that require it.
	SchemaName string

	MaxTokens   int
	Temperature float64
}

// Client wraps an [llm.Provider] with schema-constrained decoding, retry on
// parse/validation failure, and usage tracking. It does not detect output
// truncation from the provider's stop reason; see [Client.Analyse].
type Client struct {
	provider     llm.Provider
	providerName string
	model        string
	reliability  Reliability
	tracker      *Tracker
	cache        *manifest.Cache
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithReliability overrides the default reliability classification
// (ReliabilityCloud), which governs the retry policy.
func WithReliability(r Reliability) Option {
	return func(c *Client) { c.reliability = r }
}

// WithTracker attaches a usage [Tracker] that every call records into.
func WithTracker(t *Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithCache attaches a response cache consulted before every call and
// populated after a successful decode, keyed by the hash of the request
// content plus provider/model. Lets a run invoked without manifest-based
// resume still avoid re-paying for an unchanged prompt.
func WithCache(cache *manifest.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// New wraps provider (identified by providerName/model for usage tracking
// and cache-invalidation fingerprints) in a Client.
func New(provider llm.Provider, providerName, model string, opts ...Option) *Client {
	c := &Client{
		provider:     provider,
		providerName: providerName,
		model:        model,
		reliability:  ReliabilityCloud,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyse dispatches req and decodes the response into out, which must be a
// pointer to a struct matching req.Schema. Retries according to the
// client's reliability tier on parse/schema-validation failure. Returns
// [ErrSchemaViolation] if every attempt fails to decode; a provider error on
// the last attempt is returned unwrapped. [llm.CompletionResponse] carries no
// stop reason, so dispatch reports only "tool_calls" or "stop" and
// [ErrTruncatedOutput] is never returned: a response cut short by the token
// budget fails to decode and surfaces as [ErrSchemaViolation].
func (c *Client) Analyse(ctx context.Context, req Request, out any) error {
	cacheKey := ""
	if c.cache != nil {
		cacheKey = c.cacheKey(req)
		if cached, ok, err := c.cache.Get(cacheKey); err == nil && ok {
			return decodeJSON(string(cached), out)
		}
	}

	maxAttempts := 1
	if c.reliability == ReliabilityLocal {
		maxAttempts = defaultMaxRetries
	}

	caps := c.provider.Capabilities()

	var lastErr error
	lastWasDecode := false
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultRetryBase * time.Duration(1<<uint(attempt-1))):
			}
		}

		content, usage, finishReason, err := c.dispatch(ctx, req, caps)
		if err != nil {
			lastErr = err
			lastWasDecode = false
			continue
		}

		if c.tracker != nil {
			c.tracker.Record(ctx, c.providerName, c.model, usage.PromptTokens, usage.CompletionTokens)
		}

		if isTruncated(finishReason) {
			return fmt.Errorf("%w: stage response for model %q was cut off; increase max_tokens or shorten input", ErrTruncatedOutput, c.model)
		}

		if decodeErr := decodeJSON(content, out); decodeErr != nil {
			lastErr = decodeErr
			lastWasDecode = true
			continue
		}
		if c.cache != nil {
			_ = c.cache.Put(cacheKey, []byte(content))
		}
		return nil
	}

	if !lastWasDecode {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrSchemaViolation, lastErr)
}

// cacheKey hashes the provider/model identity together with the request's
// prompts and schema name, so a changed model or prompt never reuses a
// stale cached response.
func (c *Client) cacheKey(req Request) string {
	return manifest.HashBytes([]byte(c.providerName + "|" + c.model + "|" + req.SchemaName + "|" + req.SystemPrompt + "|" + req.UserPrompt))
}

// dispatch picks the decoding strategy by provider capability: native tool
// calling when supported, JSON-mode with the schema injected into the
// system prompt otherwise.
func (c *Client) dispatch(ctx context.Context, req Request, caps llm.ModelCapabilities) (content string, usage llm.Usage, finishReason string, err error) {
	sysPrompt := req.SystemPrompt
	llmReq := llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: req.UserPrompt},
		},
	}

	if caps.SupportsToolCalling && req.Schema != nil {
		llmReq.Tools = []llm.ToolDefinition{{
			Name:        req.SchemaName,
			Description: "Return the structured analysis result.",
			Parameters:  req.Schema,
		}}
	} else if req.Schema != nil {
		llmReq.SystemPrompt = sysPrompt + "\n\n" + jsonModeInstruction(req.SchemaName, req.Schema)
	}

	resp, err := c.provider.Complete(ctx, llmReq)
	if err != nil {
		return "", llm.Usage{}, "", fmt.Errorf("llmclient: complete: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls[0].Arguments, resp.Usage, "tool_calls", nil
	}
	return resp.Content, resp.Usage, "stop", nil
}

// jsonModeInstruction builds the fallback instruction appended to the
// system prompt for providers without native tool calling.
func jsonModeInstruction(name string, schema map[string]any) string {
	schemaJSON, _ := json.Marshal(schema)
	return fmt.Sprintf(
		"Respond with ONLY a single JSON object named %q conforming to this JSON Schema (no markdown, no prose):\n%s",
		name, string(schemaJSON),
	)
}

// decodeJSON parses raw provider output into out, tolerating markdown code
// fences that some models wrap JSON in.
func decodeJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return fmt.Errorf("llmclient: empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("llmclient: decode response: %w", err)
	}
	return nil
}
