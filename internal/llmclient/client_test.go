package llmclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
	llmmock "github.com/bristlenose/bristlenose/pkg/provider/llm/mock"
)

type result struct {
	Label string `json:"label"`
}

func TestAnalyse_ToolCallDecodesSuccessfully(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "result", Arguments: `{"label":"topic shift"}`}},
		},
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
	}
	c := llmclient.New(provider, "anthropic", "claude-opus-4")

	var out result
	err := c.Analyse(context.Background(), llmclient.Request{
		SystemPrompt: "classify",
		UserPrompt:   "hello",
		Schema:       map[string]any{"type": "object"},
		SchemaName:   "result",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "topic shift", out.Label)
}

func TestAnalyse_JSONModeFallbackDecodesSuccessfully(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"label\":\"general\"}\n```",
		},
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: false},
	}
	c := llmclient.New(provider, "ollama", "llama3")

	var out result
	err := c.Analyse(context.Background(), llmclient.Request{
		UserPrompt: "hello",
		Schema:     map[string]any{"type": "object"},
		SchemaName: "result",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "general", out.Label)
}

func TestAnalyse_CutOffToolCallJSONReturnsError(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "result", Arguments: `{"label":"cut off"`}},
		},
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
	}
	c := llmclient.New(provider, "anthropic", "claude-opus-4")

	var out result
	err := c.Analyse(context.Background(), llmclient.Request{
		UserPrompt: "hello",
		Schema:     map[string]any{"type": "object"},
		SchemaName: "result",
	}, &out)
	// Malformed JSON from a tool call is a schema violation, not truncation,
	// since the mock never reports a length finish reason.
	require.Error(t, err)
}

func TestAnalyse_LocalReliabilityRetriesOnParseFailure(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "not json"},
			{Content: `{"label":"recovered"}`},
		},
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: false},
	}
	c := llmclient.New(provider, "ollama", "llama3", llmclient.WithReliability(llmclient.ReliabilityLocal))

	var out result
	err := c.Analyse(context.Background(), llmclient.Request{
		UserPrompt: "hello",
		Schema:     map[string]any{"type": "object"},
		SchemaName: "result",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Label)
	assert.Equal(t, 2, len(provider.CompleteCalls))
}

func TestAnalyse_CloudReliabilityDoesNotRetry(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "not json"},
			{Content: `{"label":"recovered"}`},
		},
	}
	c := llmclient.New(provider, "anthropic", "claude-opus-4")

	var out result
	err := c.Analyse(context.Background(), llmclient.Request{
		UserPrompt: "hello",
		Schema:     map[string]any{"type": "object"},
		SchemaName: "result",
	}, &out)
	require.Error(t, err)
	assert.Equal(t, 1, len(provider.CompleteCalls))
}

func TestAnalyse_CacheHitSkipsSecondProviderCall(t *testing.T) {
	cache, err := manifest.OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{Name: "result", Arguments: `{"label":"cached"}`}},
		},
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
	}
	c := llmclient.New(provider, "anthropic", "claude-opus-4", llmclient.WithCache(cache))

	req := llmclient.Request{
		SystemPrompt: "classify",
		UserPrompt:   "hello",
		Schema:       map[string]any{"type": "object"},
		SchemaName:   "result",
	}

	var first result
	require.NoError(t, c.Analyse(context.Background(), req, &first))
	assert.Equal(t, "cached", first.Label)
	require.Len(t, provider.CompleteCalls, 1)

	var second result
	require.NoError(t, c.Analyse(context.Background(), req, &second))
	assert.Equal(t, "cached", second.Label)
	assert.Len(t, provider.CompleteCalls, 1, "second call with the same request should be served from cache")
}
