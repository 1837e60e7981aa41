// Package orchestrator drives the pipeline end to end: stage order,
// bounded concurrency within stages, manifest-based resume, and
// intermediate-JSON persistence for every stage's output.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bristlenose/bristlenose/internal/audioextract"
	"github.com/bristlenose/bristlenose/internal/grouper"
	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/internal/observe"
	"github.com/bristlenose/bristlenose/internal/peopleregistry"
	"github.com/bristlenose/bristlenose/internal/quotes"
	"github.com/bristlenose/bristlenose/internal/redact"
	"github.com/bristlenose/bristlenose/internal/speaker"
	"github.com/bristlenose/bristlenose/internal/topics"
	"github.com/bristlenose/bristlenose/internal/transcriber"
	"github.com/bristlenose/bristlenose/internal/transcript"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// Output is the full result of a pipeline run, as well as what gets
// persisted into the output directory's intermediate artefacts.
type Output struct {
	Sessions   []types.Session
	Segments   map[string][]types.Segment
	Speakers   map[string][]types.Speaker
	Boundaries map[string][]types.TopicBoundary
	Quotes     []types.Quote
	Screens    []types.ScreenCluster
	Themes     []types.Theme
}

// Orchestrator wires every pipeline stage together against one output
// directory and one manifest.
type Orchestrator struct {
	LLMProvider llm.Provider
	LLMName     string
	LLMModel    string
	STTProvider stt.Provider
	STTModel    string

	InputDir  string
	OutputDir string

	Concurrency         int64
	ReuseCachedProvider bool
	ScratchCleanup      audioextract.CleanupPolicy
	RedactionEnabled    bool

	Manifest *manifest.Manifest
	Registry *peopleregistry.Registry
	Metrics  *observe.Metrics
	Tracker  *llmclient.Tracker
	Cache    *manifest.Cache
	Log      *slog.Logger
}

// intermediatePath returns the pretty-printed per-stage artefact path
// under the output directory's hidden working subdirectory.
func (o *Orchestrator) intermediatePath(stage types.StageName) string {
	return filepath.Join(o.OutputDir, ".bristlenose", "intermediate", string(stage)+".json")
}

func (o *Orchestrator) persist(stage types.StageName, v any) error {
	path := o.intermediatePath(stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrator: create intermediate dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrator: marshal %s artefact: %w", stage, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("orchestrator: write %s artefact: %w", stage, err)
	}
	return nil
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func (o *Orchestrator) llmClient() *llmclient.Client {
	opts := []llmclient.Option{}
	if o.Tracker != nil {
		opts = append(opts, llmclient.WithTracker(o.Tracker))
	}
	if o.Cache != nil {
		opts = append(opts, llmclient.WithCache(o.Cache))
	}
	return llmclient.New(o.LLMProvider, o.LLMName, o.LLMModel, opts...)
}

func (o *Orchestrator) concurrencyOrDefault() int64 {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return speaker.DefaultConcurrency
}

// Run executes the full pipeline using the baseline two-fan-out schedule:
// Stage 8 runs to completion for every session before Stage 9 starts.
func (o *Orchestrator) Run(ctx context.Context) (*Output, error) {
	sessions, segBySession, err := o.runStages1Through6(ctx)
	if err != nil {
		return nil, err
	}

	transcriptText := toTranscriptText(segBySession)
	client := o.llmClient()

	boundaries, err := o.runTopics(ctx, client, sessions, transcriptText)
	if err != nil {
		return nil, err
	}

	allQuotes, err := o.runQuotes(ctx, client, sessions, transcriptText, boundaries)
	if err != nil {
		return nil, err
	}

	out, err := o.clusterAndTheme(ctx, client, allQuotes)
	if err != nil {
		return nil, err
	}
	out.Sessions = sessions
	out.Segments = segBySession
	out.Boundaries = boundaries
	out.Quotes = allQuotes
	return out, nil
}

// RunChained is the alternative schedule where, per session, Stage 9 starts
// as soon as that session's Stage 8 boundaries are ready rather than
// waiting for every session to finish Stage 8 first. Output is identical to
// [Orchestrator.Run] — only the scheduling differs.
func (o *Orchestrator) RunChained(ctx context.Context) (*Output, error) {
	sessions, segBySession, err := o.runStages1Through6(ctx)
	if err != nil {
		return nil, err
	}

	transcriptText := toTranscriptText(segBySession)
	client := o.llmClient()
	fp := o.llmFingerprint()
	segTopics := topics.New(client, topics.WithConcurrency(o.concurrencyOrDefault()), topics.WithLogger(o.logger()))
	segQuotes := quotes.New(client, quotes.WithConcurrency(o.concurrencyOrDefault()), quotes.WithLogger(o.logger()))

	type sessionResult struct {
		boundaries []types.TopicBoundary
		quotes     []types.Quote
	}
	results := runOrdered(ctx, sessions, o.concurrencyOrDefault(), func(ctx context.Context, sess types.Session) sessionResult {
		b := o.segmentSessionCached(ctx, segTopics, sess, transcriptText, fp)
		q := o.extractSessionCached(ctx, segQuotes, sess, transcriptText, map[string][]types.TopicBoundary{sess.ID: b}, fp)
		return sessionResult{boundaries: b, quotes: q}
	})

	boundaries := make(map[string][]types.TopicBoundary, len(sessions))
	var allQuotes []types.Quote
	topicsFailed, quotesFailed := 0, 0
	for i, sess := range sessions {
		boundaries[sess.ID] = results[i].boundaries
		allQuotes = append(allQuotes, results[i].quotes...)
		if rec, ok := o.Manifest.SessionStage(sess.ID, types.StageTopics); ok && rec.Status == types.StatusFailed {
			topicsFailed++
		}
		if rec, ok := o.Manifest.SessionStage(sess.ID, types.StageQuotes); ok && rec.Status == types.StatusFailed {
			quotesFailed++
		}
	}

	if err := o.persist(types.StageTopics, boundaries); err != nil {
		return nil, err
	}
	o.Manifest.SetStage(types.StageTopics, manifest.StageRecord{
		Status:       stageStatus(topicsFailed, len(sessions)),
		ContentHash:  wholeStageHash(transcriptText),
		Fingerprint:  fp,
		SessionCount: len(sessions),
	})
	if err := o.persist(types.StageQuotes, allQuotes); err != nil {
		return nil, err
	}
	o.Manifest.SetStage(types.StageQuotes, manifest.StageRecord{
		Status:       stageStatus(quotesFailed, len(sessions)),
		ContentHash:  quotesStageHash(transcriptText, boundaries),
		Fingerprint:  fp,
		SessionCount: len(sessions),
	})
	if err := o.Manifest.Save(); err != nil {
		return nil, fmt.Errorf("orchestrator: save manifest after chained stages 8/9: %w", err)
	}

	out, err := o.clusterAndTheme(ctx, client, allQuotes)
	if err != nil {
		return nil, err
	}
	out.Sessions = sessions
	out.Segments = segBySession
	out.Boundaries = boundaries
	out.Quotes = allQuotes
	return out, nil
}

// clusterAndTheme runs Stages 10 and 11 concurrently over their disjoint
// quote subsets.
func (o *Orchestrator) clusterAndTheme(ctx context.Context, client *llmclient.Client, allQuotes []types.Quote) (*Output, error) {
	var screenQuotes, generalQuotes []types.Quote
	for _, q := range allQuotes {
		if q.Scope == types.ScopeScreenSpecific {
			screenQuotes = append(screenQuotes, q)
		} else {
			generalQuotes = append(generalQuotes, q)
		}
	}

	fp := o.llmFingerprint()

	type clusterOut struct {
		clusters []types.ScreenCluster
		err      error
	}
	type themeOut struct {
		themes []types.Theme
		err    error
	}
	clusterCh := make(chan clusterOut, 1)
	themeCh := make(chan themeOut, 1)

	go func() {
		clusters, err := o.runScreens(ctx, client, screenQuotes, fp)
		clusterCh <- clusterOut{clusters: clusters, err: err}
	}()
	go func() {
		th, err := o.runThemes(ctx, client, generalQuotes, fp)
		themeCh <- themeOut{themes: th, err: err}
	}()

	c := <-clusterCh
	th := <-themeCh
	if c.err != nil {
		return nil, c.err
	}
	if th.err != nil {
		return nil, th.err
	}

	return &Output{Screens: c.clusters, Themes: th.themes}, nil
}

// runStages1Through6 groups sessions, extracts audio, transcribes or parses
// existing transcripts, identifies speakers, and merges every source into
// one final segment list per session — the shared prefix of Run and
// RunChained.
func (o *Orchestrator) runStages1Through6(ctx context.Context) ([]types.Session, map[string][]types.Segment, error) {
	sessions, err := grouper.Group(o.InputDir, parsesOK)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: group sessions: %w", err)
	}
	if err := o.persist(types.StageGroup, sessions); err != nil {
		return nil, nil, err
	}

	scratchDir := filepath.Join(o.OutputDir, ".bristlenose", "scratch")
	extractor, err := audioextract.New(scratchDir, audioextract.WithCleanupPolicy(o.ScratchCleanup))
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: create extractor: %w", err)
	}
	extractResults := extractor.ExtractAll(ctx, sessions)
	wavBySession := make(map[string]string, len(extractResults))
	for _, r := range extractResults {
		if r.Err == nil {
			wavBySession[r.SessionID] = r.WAVPath
		}
	}

	tr := transcriber.New(o.STTProvider, o.Manifest, o.STTModel,
		transcriber.WithLogger(o.logger()),
		transcriber.WithArtefactDir(filepath.Join(o.OutputDir, ".bristlenose", "intermediate", "transcribe-sessions")),
	)
	transcribeResults := tr.TranscribeAll(ctx, sessions, func(id string) (string, error) {
		path, ok := wavBySession[id]
		if !ok {
			return "", fmt.Errorf("no decoded audio for session %s", id)
		}
		return path, nil
	})

	segBySession := make(map[string][]types.Segment, len(sessions))
	for i, sess := range sessions {
		var sources [][]types.Segment
		if r := transcribeResults[i]; r.Err == nil && len(r.Segments) > 0 {
			sources = append(sources, r.Segments)
		}
		if sess.HasExistingTranscript {
			parsed, perr := parsePlatformTranscript(sess)
			if perr == nil {
				sources = append(sources, parsed)
			} else {
				o.logger().Warn("orchestrator: failed to parse platform transcript", "session", sess.ID, "error", perr)
			}
		}
		segBySession[sess.ID] = transcript.Merge(sources...)

		if o.ScratchCleanup == audioextract.CleanupDeleteAfterTranscribe {
			_ = extractor.Forget(sess.ID)
		}
	}

	ident := speaker.New(o.llmClient(), speaker.WithConcurrency(o.concurrencyOrDefault()))
	assigner := speaker.NewCodeAssigner()
	llmFP := o.llmFingerprint()
	speakersBySession := make(map[string][]types.Speaker, len(sessions))
	for _, sess := range sessions {
		segs := segBySession[sess.ID]
		excerpt := firstMinutesExcerpt(segs, 5*60)
		speakers := o.identifySessionSpeakers(ctx, ident, assigner, sess, segs, excerpt, llmFP)
		speakersBySession[sess.ID] = speakers
		applyCodes(segs, speakers)

		for _, sp := range speakers {
			o.Registry.Merge(sp.Code,
				types.ComputedPersonFields{SessionID: sess.ID, Role: sp.Role},
				types.EditablePersonFields{FullName: sp.PersonName, Role: sp.Role},
			)
		}
	}
	if err := o.persist(types.StageIdentify, speakersBySession); err != nil {
		return nil, nil, err
	}
	if err := o.persist(types.StageMerge, segBySession); err != nil {
		return nil, nil, err
	}

	if o.RedactionEnabled {
		if err := o.redactAll(sessions, segBySession); err != nil {
			return nil, nil, err
		}
	}

	if err := o.Manifest.Save(); err != nil {
		return nil, nil, fmt.Errorf("orchestrator: save manifest after stages 1-7: %w", err)
	}

	return sessions, segBySession, nil
}

// redactAll replaces PII in every segment's text with type-tagged
// placeholders, writing the audit log alongside the cooked transcripts.
// Segments are mutated in place; the original Text is never retained once
// redaction succeeds, matching the "cooked transcript" output contract.
func (o *Orchestrator) redactAll(sessions []types.Session, segBySession map[string][]types.Segment) error {
	var knownNames []string
	for _, p := range o.Registry.All() {
		if p.Editable.FullName != "" {
			knownNames = append(knownNames, p.Editable.FullName)
		}
	}
	r := redact.New(knownNames)

	auditPath := filepath.Join(o.OutputDir, ".bristlenose", "intermediate", "redaction-audit.jsonl")
	if err := os.MkdirAll(filepath.Dir(auditPath), 0o755); err != nil {
		return fmt.Errorf("orchestrator: create audit dir: %w", err)
	}
	f, err := os.Create(auditPath)
	if err != nil {
		return fmt.Errorf("orchestrator: create audit log: %w", err)
	}
	defer f.Close()

	for _, sess := range sessions {
		segs := segBySession[sess.ID]
		for i, seg := range segs {
			cooked, findings := r.Redact(seg)
			segs[i].Text = cooked
			if err := redact.WriteAudit(f, findings); err != nil {
				return fmt.Errorf("orchestrator: write audit: %w", err)
			}
		}
	}
	return nil
}

// parsesOK reports whether path can be parsed as a VTT, SRT, or DOCX
// transcript, used by the grouper to distinguish a real platform
// transcript from a same-named file that merely shares an extension.
func parsesOK(path string) bool {
	switch filepath.Ext(path) {
	case ".vtt":
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()
		_, err = transcript.ParseVTT(f, "")
		return err == nil
	case ".srt":
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()
		_, err = transcript.ParseSRT(f, "")
		return err == nil
	case ".docx":
		_, err := transcript.ParseDOCX(path, "")
		return err == nil
	}
	return false
}

// parsePlatformTranscript parses a session's platform-exported transcript
// file, picking the first transcript-shaped path among its sources.
func parsePlatformTranscript(sess types.Session) ([]types.Segment, error) {
	for _, path := range sess.Paths {
		switch filepath.Ext(path) {
		case ".vtt":
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return transcript.ParseVTT(f, sess.ID)
		case ".srt":
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return transcript.ParseSRT(f, sess.ID)
		case ".docx":
			return transcript.ParseDOCX(path, sess.ID)
		}
	}
	return nil, fmt.Errorf("no platform transcript file found for session %s", sess.ID)
}

// applyCodes resolves each segment's finalised SpeakerCode and Role from
// its raw SpeakerLabel, using the session's classified and coded speakers.
func applyCodes(segs []types.Segment, speakers []types.Speaker) {
	byLabel := make(map[string]types.Speaker, len(speakers))
	for _, sp := range speakers {
		byLabel[sp.Label] = sp
	}
	for i := range segs {
		if sp, ok := byLabel[segs[i].SpeakerLabel]; ok {
			segs[i].SpeakerCode = sp.Code
			segs[i].Role = sp.Role
		}
	}
}

// firstMinutesExcerpt renders the leading maxSeconds of segs as plain text,
// the context window given to the speaker-refinement LLM call.
func firstMinutesExcerpt(segs []types.Segment, maxSeconds float64) string {
	text := ""
	for _, s := range segs {
		if s.Start > maxSeconds {
			break
		}
		text += fmt.Sprintf("[%s] %s\n", types.FormatTimecode(s.Start), s.Text)
	}
	return text
}

// toTranscriptText renders each session's final merged segments as the raw
// transcript text format, the shared input every LLM-backed stage reasons
// over.
func toTranscriptText(segBySession map[string][]types.Segment) map[string]string {
	out := make(map[string]string, len(segBySession))
	for id, segs := range segBySession {
		var buf bytes.Buffer
		_ = transcript.WriteSegments(&buf, segs)
		out[id] = buf.String()
	}
	return out
}
