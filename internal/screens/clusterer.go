// Package screens implements Stage 10: a single LLM call that clusters
// every screen-specific quote across all sessions into normalised,
// flow-ordered screen/task groupings.
package screens

import (
	"context"
	"fmt"
	"strings"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/pkg/types"
)

type clusterResponse struct {
	Clusters []struct {
		Label       string `json:"label"`
		Subtitle    string `json:"subtitle"`
		QuoteIndexes []int `json:"quote_indexes"`
	} `json:"clusters"`
}

var clusterSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"clusters": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":         map[string]any{"type": "string"},
					"subtitle":      map[string]any{"type": "string"},
					"quote_indexes": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required": []string{"label", "quote_indexes"},
			},
		},
	},
	"required": []string{"clusters"},
}

// Clusterer runs Stage 10 over every screen-specific quote in a run.
type Clusterer struct {
	client *llmclient.Client
}

// New returns a Clusterer backed by client.
func New(client *llmclient.Client) *Clusterer {
	return &Clusterer{client: client}
}

// Cluster assigns every quote in screenQuotes to exactly one ScreenCluster,
// normalising labels to 2-4 words and dropping a bare "Page"/"Screen"
// suffix unless needed to disambiguate, ordered in logical product flow.
// A quote the model fails to assign to any cluster is dropped rather than
// silently duplicated across clusters.
func (c *Clusterer) Cluster(ctx context.Context, screenQuotes []types.Quote) ([]types.ScreenCluster, error) {
	if len(screenQuotes) == 0 {
		return nil, nil
	}

	var resp clusterResponse
	req := llmclient.Request{
		SystemPrompt: "You cluster user-research quotes about specific screens or tasks into distinct groupings. Normalise each cluster's label to 2-4 words; drop a bare \"Page\" or \"Screen\" suffix unless needed to tell two clusters apart. Assign every quote to exactly one cluster. Order clusters in the product's logical flow.",
		UserPrompt:   fmt.Sprintf("Quotes (0-indexed): %s", serializeQuotes(screenQuotes)),
		Schema:       clusterSchema,
		SchemaName:   "screen_clusters",
	}
	if err := c.client.Analyse(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("screens: cluster: %w", err)
	}

	out := make([]types.ScreenCluster, 0, len(resp.Clusters))
	for i, cl := range resp.Clusters {
		var quotes []types.Quote
		for _, idx := range cl.QuoteIndexes {
			if idx < 0 || idx >= len(screenQuotes) {
				continue
			}
			quotes = append(quotes, screenQuotes[idx])
		}
		out = append(out, types.ScreenCluster{
			Label:    cl.Label,
			Subtitle: cl.Subtitle,
			Quotes:   quotes,
			Position: i,
		})
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
