package themes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/internal/themes"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
	llmmock "github.com/bristlenose/bristlenose/pkg/provider/llm/mock"
	"github.com/bristlenose/bristlenose/pkg/types"
)

func TestGroup_AssignsQuotesToThemes(t *testing.T) {
	provider := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{SupportsToolCalling: true},
		CompleteResponse: &llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{
				Arguments: `{"themes":[{"label":"Trust","subtitle":"Users doubt the product's reliability","quote_indexes":[0,1]}]}`,
			}},
		},
	}
	client := llmclient.New(provider, "mock", "mock-model")
	g := themes.New(client)

	quotes := []types.Quote{
		{SessionID: "s1", Text: "I wasn't sure it saved"},
		{SessionID: "s2", Text: "I double-checked everything"},
	}
	result, err := g.Group(context.Background(), quotes)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Trust", result[0].Label)
	assert.Len(t, result[0].Quotes, 2)
}

func TestGroup_EmptyInputReturnsNoThemes(t *testing.T) {
	client := llmclient.New(&llmmock.Provider{}, "mock", "mock-model")
	g := themes.New(client)
	result, err := g.Group(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}
