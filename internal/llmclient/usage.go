package llmclient

import (
	"context"
	"sync"

	"github.com/bristlenose/bristlenose/internal/observe"
)

// modelPricing holds per-million-token USD pricing for a single model.
type modelPricing struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// pricingTable is a static per-model pricing map. Prices are illustrative
// list prices at the time this table was written and are not refreshed
// automatically; a model absent from this map has undefined cost and is
// reported via CostUndefined rather than silently priced at zero.
var pricingTable = map[string]modelPricing{
	"claude-opus-4":      {inputPerMillion: 15.00, outputPerMillion: 75.00},
	"claude-sonnet-4":    {inputPerMillion: 3.00, outputPerMillion: 15.00},
	"claude-3-5-haiku":   {inputPerMillion: 0.80, outputPerMillion: 4.00},
	"gpt-4o":             {inputPerMillion: 2.50, outputPerMillion: 10.00},
	"gpt-4o-mini":        {inputPerMillion: 0.15, outputPerMillion: 0.60},
	"gemini-1.5-pro":     {inputPerMillion: 1.25, outputPerMillion: 5.00},
	"gemini-1.5-flash":   {inputPerMillion: 0.075, outputPerMillion: 0.30},
	"deepseek-chat":      {inputPerMillion: 0.27, outputPerMillion: 1.10},
	"mistral-large":      {inputPerMillion: 2.00, outputPerMillion: 6.00},
}

// Tracker accumulates token usage and estimated cost across every LLM call
// made during a pipeline run. It is the single shared mutator referenced in
// the concurrency model: every call goes through atomic-safe increments
// guarded by a mutex, mirroring the manifest's single-writer discipline.
type Tracker struct {
	mu       sync.Mutex
	input    int
	output   int
	costUSD  float64
	undefined map[string]bool
	metrics  *observe.Metrics
}

// NewTracker returns a Tracker that also forwards every recorded call to m
// as OpenTelemetry counters. m may be nil to track totals only.
func NewTracker(m *observe.Metrics) *Tracker {
	return &Tracker{undefined: make(map[string]bool), metrics: m}
}

// Record accounts for one completed LLM call under (provider, model).
// Cost is computed from the static pricing table; a model absent from the
// table contributes zero cost but is flagged in UndefinedModels.
func (t *Tracker) Record(ctx context.Context, provider, model string, inputTokens, outputTokens int) {
	t.mu.Lock()
	t.input += inputTokens
	t.output += outputTokens
	price, ok := pricingTable[model]
	var cost float64
	if ok {
		cost = float64(inputTokens)/1_000_000*price.inputPerMillion +
			float64(outputTokens)/1_000_000*price.outputPerMillion
		t.costUSD += cost
	} else {
		t.undefined[model] = true
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordTokenUsage(ctx, provider, model, inputTokens, outputTokens)
		if ok {
			t.metrics.RecordCost(ctx, provider, model, cost)
		}
	}
}

// Totals returns the running input/output token counts and the estimated
// cost in USD across every model with known pricing.
func (t *Tracker) Totals() (inputTokens, outputTokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input, t.output, t.costUSD
}

// UndefinedModels returns, in no particular order, the model identifiers
// that were used but have no entry in the static pricing table, so the
// final cost line can disclose that the total is a lower bound.
func (t *Tracker) UndefinedModels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.undefined))
	for m := range t.undefined {
		out = append(out, m)
	}
	return out
}
