// Package speaker implements Stage 5b: speaker identification. A three-step
// pipeline turns each session's raw speaker labels into a role and a
// project-stable code — heuristic pre-classification, bounded-concurrency
// LLM refinement, then code assignment.
package speaker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// DefaultConcurrency is the default bound on concurrent LLM refinement
// calls, per the concurrency model's default for LLM-backed stages.
const DefaultConcurrency = 3

// genericLabelPattern matches speaker labels transcription engines emit
// when they cannot identify a real name.
var genericLabelPattern = regexp.MustCompile(`(?i)^(speaker\s*[a-z0-9]+|speaker_\d+|unknown)$`)

// refinement is the schema-constrained shape the LLM returns for one
// speaker label.
type refinement struct {
	Role       string `json:"role"`
	PersonName string `json:"person_name,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
}

var refinementSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"role":        map[string]any{"type": "string", "enum": []string{"researcher", "participant", "observer", "unknown"}},
		"person_name": map[string]any{"type": "string"},
		"job_title":   map[string]any{"type": "string"},
	},
	"required": []string{"role"},
}

// Identifier runs Stage 5b over a batch of sessions.
type Identifier struct {
	client      *llmclient.Client
	concurrency int64
}

// Option is a functional option for configuring an Identifier.
type Option func(*Identifier)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int64) Option {
	return func(i *Identifier) { i.concurrency = n }
}

// New returns an Identifier that refines heuristic classifications with
// client. A nil client disables LLM refinement entirely, falling back to
// heuristics for every label.
func New(client *llmclient.Client, opts ...Option) *Identifier {
	i := &Identifier{client: client, concurrency: DefaultConcurrency}
	for _, o := range opts {
		o(i)
	}
	return i
}

// SessionSpeakers classifies every distinct speaker label in a session's
// segments and returns one Speaker per label, role- and name-populated
// where possible. segments must all share sess.ID.
func (id *Identifier) SessionSpeakers(ctx context.Context, sess types.Session, segments []types.Segment, firstFiveMinutes string) ([]types.Speaker, error) {
	labels := distinctLabels(segments)
	speakers := make([]types.Speaker, len(labels))
	for i, label := range labels {
		speakers[i] = heuristicClassify(label, len(labels))
	}

	if id.client == nil {
		return speakers, nil
	}

	refined, err := id.refine(ctx, sess, labels, firstFiveMinutes)
	if err != nil {
		// LLM failure falls back to heuristic classification; this is not
		// a fatal error for the session.
		return speakers, nil
	}

	for i, label := range labels {
		r, ok := refined[label]
		if !ok {
			continue
		}
		if role := types.Role(r.Role); role != "" {
			speakers[i].Role = role
		}
		if speakers[i].PersonName == "" {
			speakers[i].PersonName = r.PersonName
		}
		if speakers[i].JobTitle == "" {
			speakers[i].JobTitle = r.JobTitle
		}
	}
	return speakers, nil
}

// refine calls the LLM once for sess, asking it to classify every label at
// once given the session's opening minutes as context.
func (id *Identifier) refine(ctx context.Context, sess types.Session, labels []string, transcriptExcerpt string) (map[string]refinement, error) {
	var out struct {
		Labels map[string]refinement `json:"labels"`
	}
	req := llmclient.Request{
		SystemPrompt: "You classify speakers in a user-research interview transcript excerpt as researcher, participant, or observer, and extract any self-introduced name or job title.",
		UserPrompt:   fmt.Sprintf("Speaker labels: %s\n\nTranscript excerpt:\n%s", strings.Join(labels, ", "), transcriptExcerpt),
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"labels": map[string]any{
					"type":                 "object",
					"additionalProperties": refinementSchema,
				},
			},
			"required": []string{"labels"},
		},
		SchemaName: "speaker_refinement",
	}
	if err := id.client.Analyse(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("speaker: refine session %s: %w", sess.ID, err)
	}
	return out.Labels, nil
}

// RefineAll runs SessionSpeakers across sessions bounded by the
// identifier's concurrency.
func (id *Identifier) RefineAll(ctx context.Context, sessions []types.Session, segmentsBySession map[string][]types.Segment, excerptBySession map[string]string) (map[string][]types.Speaker, error) {
	sem := semaphore.NewWeighted(id.concurrency)
	out := make(map[string][]types.Speaker, len(sessions))
	var mu sync.Mutex
	var firstErr error

	done := make(chan struct{}, len(sessions))
	for _, sess := range sessions {
		sess := sess
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			done <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			speakers, err := id.SessionSpeakers(ctx, sess, segmentsBySession[sess.ID], excerptBySession[sess.ID])
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			out[sess.ID] = speakers
			mu.Unlock()
		}()
	}
	for range sessions {
		<-done
	}
	return out, firstErr
}

// heuristicClassify applies the single-speaker and generic-label rules
// without any LLM involvement.
func heuristicClassify(label string, distinctSpeakerCount int) types.Speaker {
	sp := types.Speaker{Label: label}
	if distinctSpeakerCount == 1 {
		sp.Role = types.RoleParticipant
		return sp
	}
	if genericLabelPattern.MatchString(strings.TrimSpace(label)) {
		sp.Role = types.RoleUnknown
		return sp
	}
	sp.Role = types.RoleUnknown
	sp.PersonName = label
	return sp
}

// distinctLabels returns the unique, order-preserving set of speaker labels
// across segs.
func distinctLabels(segs []types.Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		if s.SpeakerLabel == "" || seen[s.SpeakerLabel] {
			continue
		}
		seen[s.SpeakerLabel] = true
		out = append(out, s.SpeakerLabel)
	}
	return out
}
