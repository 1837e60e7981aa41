// Package themes implements Stage 11: a single LLM call that groups every
// general-context quote across all sessions into cross-participant
// thematic patterns. Runs concurrently with Stage 10 since the two stages
// consume disjoint quote subsets.
package themes

import (
	"context"
	"fmt"
	"strings"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/pkg/types"
)

type themeResponse struct {
	Themes []struct {
		Label        string `json:"label"`
		Subtitle     string `json:"subtitle"`
		QuoteIndexes []int  `json:"quote_indexes"`
	} `json:"themes"`
}

var themeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"themes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":         map[string]any{"type": "string"},
					"subtitle":      map[string]any{"type": "string"},
					"quote_indexes": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required": []string{"label", "subtitle", "quote_indexes"},
			},
		},
	},
	"required": []string{"themes"},
}

// Grouper runs Stage 11 over every general-context quote in a run.
type Grouper struct {
	client *llmclient.Client
}

// New returns a Grouper backed by client.
func New(client *llmclient.Client) *Grouper {
	return &Grouper{client: client}
}

// Group assigns every quote in generalQuotes to exactly one Theme, each
// with a punchy subtitle under 15 words.
func (g *Grouper) Group(ctx context.Context, generalQuotes []types.Quote) ([]types.Theme, error) {
	if len(generalQuotes) == 0 {
		return nil, nil
	}

	var resp themeResponse
	req := llmclient.Request{
		SystemPrompt: "You group general-context user-research quotes into cross-participant themes. Give every theme a punchy subtitle under 15 words. Assign every quote to exactly one theme.",
		UserPrompt:   fmt.Sprintf("Quotes (0-indexed): %s", serializeQuotes(generalQuotes)),
		Schema:       themeSchema,
		SchemaName:   "themes",
	}
	if err := g.client.Analyse(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("themes: group: %w", err)
	}

	out := make([]types.Theme, 0, len(resp.Themes))
	for _, th := range resp.Themes {
		var quotes []types.Quote
		for _, idx := range th.QuoteIndexes {
			if idx < 0 || idx >= len(generalQuotes) {
				continue
			}
			quotes = append(quotes, generalQuotes[idx])
		}
		out = append(out, types.Theme{Label: th.Label, Subtitle: th.Subtitle, Quotes: quotes})
	}
	return out, nil
}

// serializeQuotes builds the compact index-keyed representation the model
// reasons over and refers back to by index. No whitespace padding: quote
// text is collapsed to single spaces and entries are semicolon-separated
// rather than newline-separated, to cut input tokens on large quote sets.
func serializeQuotes(qs []types.Quote) string {
	var b strings.Builder
	for i, q := range qs {
		fmt.Fprintf(&b, "[%d]%s@%s:%s;", i, q.SpeakerCode, q.SessionID, strings.Join(strings.Fields(q.Text), " "))
	}
	return b.String()
}
