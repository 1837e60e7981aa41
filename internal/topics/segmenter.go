// Package topics implements Stage 8: per-session topic segmentation,
// turning a session's merged transcript into a sorted list of topic
// boundaries scheduled under the pipeline's shared LLM concurrency bound.
package topics

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
// segmentation calls.
const DefaultConcurrency = 3

type boundaryResponse struct {
	Boundaries []struct {
		Timecode   float64 `json:"timecode"`
		Label      string  `json:"label"`
		Kind       string  `json:"kind"`
		Confidence float64 `json:"confidence"`
	} `json:"boundaries"`
}

var boundarySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"boundaries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timecode":   map[string]any{"type": "number"},
					"label":      map[string]any{"type": "string"},
					"kind":       map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
				},
				"required": []string{"timecode", "label"},
			},
		},
	},
	"required": []string{"boundaries"},
}

// Segmenter runs Stage 8 over a batch of sessions.
type Segmenter struct {
	client      *llmclient.Client
	concurrency int64
	log         *slog.Logger
}

// Option is a functional option for configuring a Segmenter.
type Option func(*Segmenter)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int64) Option {
	return func(s *Segmenter) { s.concurrency = n }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// New returns a Segmenter backed by client.
func New(client *llmclient.Client, opts ...Option) *Segmenter {
	s := &Segmenter{client: client, concurrency: DefaultConcurrency, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SessionResult is the outcome of segmenting one session, keeping a
// per-session failure distinguishable from a genuinely empty boundary set.
type SessionResult struct {
	SessionID  string
	Boundaries []types.TopicBoundary
	Err        error
}

// SegmentAllDetailed is the per-session analogue of SegmentAll: it returns
// each session's error alongside its boundaries rather than collapsing a
// failure into an empty slice, so a caller doing manifest-based resume can
// tell the two apart.
func (s *Segmenter) SegmentAllDetailed(ctx context.Context, sessions []types.Session, transcriptText map[string]string) []SessionResult {
	sem := semaphore.NewWeighted(s.concurrency)

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
			boundaries, err := s.segmentSession(ctx, sess, transcriptText[sess.ID])
			if err != nil {
				s.log.Warn("topics: session failed, using empty boundary set", "session", sess.ID, "error", err)
			}
			results <- indexed{index: i, result: SessionResult{SessionID: sess.ID, Boundaries: boundaries, Err: err}}
		}()
	}

	out := make([]SessionResult, len(sessions))
	for range sessions {
		r := <-results
		out[r.index] = r.result
	}
	return out
}

// SegmentAll segments every session in sessions concurrently, bounded by
// the segmenter's concurrency. A per-session failure yields that session
// an empty boundary set rather than aborting the batch.
func (s *Segmenter) SegmentAll(ctx context.Context, sessions []types.Session, transcriptText map[string]string) map[string][]types.TopicBoundary {
	results := s.SegmentAllDetailed(ctx, sessions, transcriptText)
	out := make(map[string][]types.TopicBoundary, len(results))
	for _, r := range results {
		out[r.SessionID] = r.Boundaries
	}
	return out
}

// segmentSession makes one LLM call for sess and returns its sorted,
// non-empty boundary list.
func (s *Segmenter) segmentSession(ctx context.Context, sess types.Session, transcript string) ([]types.TopicBoundary, error) {
	var resp boundaryResponse
	req := llmclient.Request{
		SystemPrompt: "You segment a user-research interview transcript into topic boundaries. Favour fewer, meaningful transitions. Reuse the same label for a topic the conversation returns to. Infer implicit transitions even where the conversation does not name them explicitly. Every session's boundary list must include one at timecode 0.",
		UserPrompt:   fmt.Sprintf("Transcript for session %s:\n%s", sess.ID, transcript),
		Schema:       boundarySchema,
		SchemaName:   "topic_boundaries",
	}
	if err := s.client.Analyse(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("topics: segment session %s: %w", sess.ID, err)
	}

	boundaries := make([]types.TopicBoundary, 0, len(resp.Boundaries))
	for _, b := range resp.Boundaries {
		boundaries = append(boundaries, types.TopicBoundary{
			SessionID:  sess.ID,
			Timecode:   b.Timecode,
			Label:      b.Label,
			Kind:       types.TransitionKind(b.Kind),
			Confidence: b.Confidence,
		})
	}
	sort.SliceStable(boundaries, func(i, j int) bool { return boundaries[i].Timecode < boundaries[j].Timecode })

	if len(boundaries) == 0 || boundaries[0].Timecode != 0 {
		boundaries = append([]types.TopicBoundary{{SessionID: sess.ID, Timecode: 0, Label: "start", Kind: types.TransitionGeneralContext}}, boundaries...)
	}
	return boundaries, nil
}
