// Package quotes implements Stage 9: per-session quote extraction against
// the topic boundaries Stage 8 produced, applying the pipeline's editorial
// policy for what participant speech becomes a citable quote.
package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// DefaultConcurrency is the default bound on concurrent per-session
// extraction calls, the same default as Stage 8's. Each stage bounds its
// calls with its own semaphore; the two do not share a budget.
const DefaultConcurrency = 3

const editorialPolicy = `Editorial policy for selecting quotes:
- Only participant speech becomes a quote; never researcher or observer speech.
- Replace filler words with "…".
- Bracket any clarification you supply that is not verbatim, e.g. "[the checkout page]".
- Preserve self-corrections verbatim.
- Preserve [inaudible], [laughs], [sighs], [pause] markers exactly as they occur.
- Skip trivial acknowledgements ("yeah", "okay", "mhm") unless they carry emotional weight.
- sentiment is one of frustration, confusion, doubt, surprise, satisfaction, delight, confidence, or null.
- intensity is 1, 2, 3, or null.
- Quotes are 1-5 sentences; split a long monologue into multiple quotes at natural boundaries.`

type quoteResponse struct {
	Quotes []struct {
		SpeakerCode       string   `json:"speaker_code"`
		Timecode          float64  `json:"timecode"`
		Text              string   `json:"text"`
		ResearcherContext string   `json:"researcher_context,omitempty"`
		TopicLabel        string   `json:"topic_label,omitempty"`
		Scope             string   `json:"scope"`
		Sentiment         string   `json:"sentiment,omitempty"`
		Intensity         int      `json:"intensity,omitempty"`
		Tags              []string `json:"tags,omitempty"`
	} `json:"quotes"`
}

var quoteSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"quotes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker_code":       map[string]any{"type": "string"},
					"timecode":           map[string]any{"type": "number"},
					"text":               map[string]any{"type": "string"},
					"researcher_context": map[string]any{"type": "string"},
					"topic_label":        map[string]any{"type": "string"},
					"scope":              map[string]any{"type": "string", "enum": []string{"screen-specific", "general-context"}},
					"sentiment":          map[string]any{"type": "string"},
					"intensity":          map[string]any{"type": "integer"},
					"tags":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"speaker_code", "timecode", "text", "scope"},
			},
		},
	},
	"required": []string{"quotes"},
}

// Extractor runs Stage 9 over a batch of sessions.
type Extractor struct {
	client      *llmclient.Client
	concurrency int64
	log         *slog.Logger
}

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int64) Option {
	return func(e *Extractor) { e.concurrency = n }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// New returns an Extractor backed by client.
func New(client *llmclient.Client, opts ...Option) *Extractor {
	e := &Extractor{client: client, concurrency: DefaultConcurrency, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SessionResult is the outcome of extracting quotes for one session,
// keeping a per-session failure distinguishable from a genuinely empty
// quote list.
type SessionResult struct {
	SessionID string
	Quotes    []types.Quote
	Err       error
}

// ExtractAllDetailed is the per-session analogue of ExtractAll: it returns
// each session's error alongside its quotes rather than collapsing a
// failure into an empty slice, so a caller doing manifest-based resume can
// tell the two apart.
func (e *Extractor) ExtractAllDetailed(ctx context.Context, sessions []types.Session, transcriptText map[string]string, boundaries map[string][]types.TopicBoundary) []SessionResult {
	sem := semaphore.NewWeighted(e.concurrency)

	type indexed struct {
		index  int
		result SessionResult
	}
	results := make(chan indexed, len(sessions))

	for i, sess := range sessions {
		i, sess := i, sess
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- indexed{index: i, result: SessionResult{SessionID: sess.ID, Err: err}}
			continue
		}
		go func() {
			defer sem.Release(1)
			qs, err := e.extractSession(ctx, sess, transcriptText[sess.ID], boundaries[sess.ID])
			if err != nil {
				e.log.Warn("quotes: session failed, returning empty quote list", "session", sess.ID, "error", err)
			}
			results <- indexed{index: i, result: SessionResult{SessionID: sess.ID, Quotes: qs, Err: err}}
		}()
	}

	out := make([]SessionResult, len(sessions))
	for range sessions {
		r := <-results
		out[r.index] = r.result
	}
	return out
}

// ExtractAll extracts quotes for every session in sessions, bounded by the
// extractor's concurrency. A session's extraction only starts once its
// Stage 8 boundaries are available in boundaries (the caller is expected
// to have awaited Stage 8 for every session passed here). Per-session
// failure yields an empty quote list. Output preserves transcript order
// within a session and session-ID order across sessions.
func (e *Extractor) ExtractAll(ctx context.Context, sessions []types.Session, transcriptText map[string]string, boundaries map[string][]types.TopicBoundary) []types.Quote {
	results := e.ExtractAllDetailed(ctx, sessions, transcriptText, boundaries)
	var out []types.Quote
	for _, r := range results {
		out = append(out, r.Quotes...)
	}
	return out
}

// extractSession makes one LLM call for sess and returns its quotes in
// transcript order.
func (e *Extractor) extractSession(ctx context.Context, sess types.Session, transcript string, boundaries []types.TopicBoundary) ([]types.Quote, error) {
	var resp quoteResponse
	req := llmclient.Request{
		SystemPrompt: "You extract citable quotes from a user-research interview transcript for a session, using the provided topic boundaries as context.\n\n" + editorialPolicy,
		UserPrompt:   fmt.Sprintf("Session %s topic boundaries: %v\n\nTranscript:\n%s", sess.ID, boundaries, transcript),
		Schema:       quoteSchema,
		SchemaName:   "quotes",
	}
	if err := e.client.Analyse(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("quotes: extract session %s: %w", sess.ID, err)
	}

	out := make([]types.Quote, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		if isNonParticipantCode(q.SpeakerCode) {
			continue
		}
		out = append(out, types.Quote{
			SessionID:         sess.ID,
			SpeakerCode:       q.SpeakerCode,
			Timecode:          q.Timecode,
			Text:              q.Text,
			ResearcherContext: q.ResearcherContext,
			TopicLabel:        q.TopicLabel,
			Scope:             types.Scope(q.Scope),
			Sentiment:         types.Sentiment(q.Sentiment),
			Intensity:         q.Intensity,
			Tags:              q.Tags,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timecode < out[j].Timecode })
	return out, nil
}

// isNonParticipantCode reports whether code identifies a researcher or
// observer under the "m{k}"/"o{k}"/"p{k}" speaker-code convention. The
// editorial policy already instructs the model to only quote participants;
// this is a defensive backstop in case it doesn't comply.
func isNonParticipantCode(code string) bool {
	return len(code) > 0 && (code[0] == 'm' || code[0] == 'o')
}
