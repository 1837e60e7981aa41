package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/internal/quotes"
	"github.com/bristlenose/bristlenose/internal/screens"
	"github.com/bristlenose/bristlenose/internal/speaker"
	"github.com/bristlenose/bristlenose/internal/themes"
	"github.com/bristlenose/bristlenose/internal/topics"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// This file wires the manifest's skip-decision methods into the stages
// that promise per-session or whole-stage caching: speaker identification
// (5b), topic segmentation (8), quote extraction (9), screen clustering
// (10), and thematic grouping (11). Each stage persists a recoverable
// artefact on success so a resumed run can skip re-calling the LLM for
// work already done, rather than only skipping redundant work within a
// single run.

// llmFingerprint identifies the LLM backend driving every LLM-backed stage:
// Stage 5b and Stage 8 onward.
func (o *Orchestrator) llmFingerprint() types.ProviderFingerprint {
	return types.ProviderFingerprint{Vendor: o.LLMName, Model: o.LLMModel}
}

// stageStatus rolls up a batch of per-session outcomes into one
// whole-stage status: complete if every session succeeded, partial if
// some but not all did, failed if none did.
func stageStatus(failed, total int) types.StageStatus {
	switch {
	case total == 0 || failed == 0:
		return types.StatusComplete
	case failed < total:
		return types.StatusPartial
	default:
		return types.StatusFailed
	}
}

// wholeStageHash deterministically hashes a transcript-text batch,
// independent of map iteration order, for use as a whole-stage content
// hash.
func wholeStageHash(transcriptText map[string]string) string {
	return manifest.HashBytes([]byte(serializeTranscriptText(transcriptText)))
}

func serializeTranscriptText(transcriptText map[string]string) string {
	ids := make([]string, 0, len(transcriptText))
	for id := range transcriptText {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte(0)
		b.WriteString(transcriptText[id])
		b.WriteByte(0)
	}
	return b.String()
}

// quotesStageHash hashes the transcript text and topic boundaries driving
// quote extraction, so a changed Stage 8 result re-triggers Stage 9.
func quotesStageHash(transcriptText map[string]string, boundaries map[string][]types.TopicBoundary) string {
	var b strings.Builder
	b.WriteString(serializeTranscriptText(transcriptText))

	ids := make([]string, 0, len(boundaries))
	for id := range boundaries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString(id)
		fmt.Fprintf(&b, "%v", boundaries[id])
		b.WriteByte(0)
	}
	return manifest.HashBytes([]byte(b.String()))
}

// ── Stage 5b: speaker identification per-session artefacts ──────────────

func (o *Orchestrator) speakerArtefactDir() string {
	return filepath.Join(o.OutputDir, ".bristlenose", "intermediate", "identify-sessions")
}

func (o *Orchestrator) speakerArtefactPath(sessionID string) string {
	return filepath.Join(o.speakerArtefactDir(), sessionID+".json")
}

func (o *Orchestrator) loadCachedSpeakers(sessionID string) ([]types.Speaker, error) {
	data, err := os.ReadFile(o.speakerArtefactPath(sessionID))
	if err != nil {
		return nil, err
	}
	var speakers []types.Speaker
	if err := json.Unmarshal(data, &speakers); err != nil {
		return nil, err
	}
	return speakers, nil
}

func (o *Orchestrator) saveSpeakers(sessionID string, speakers []types.Speaker) error {
	dir := o.speakerArtefactDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create speaker artefact dir: %w", err)
	}
	data, err := json.Marshal(speakers)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal speakers: %w", err)
	}
	return os.WriteFile(o.speakerArtefactPath(sessionID), data, 0o644)
}

// maxParticipantCode returns the highest "p{k}" participant number already
// assigned among speakers, or 0 if none.
func maxParticipantCode(speakers []types.Speaker) int {
	max := 0
	for _, sp := range speakers {
		if len(sp.Code) < 2 || sp.Code[0] != 'p' {
			continue
		}
		if n, err := strconv.Atoi(sp.Code[1:]); err == nil && n > max {
			max = n
		}
	}
	return max
}

// identifySessionSpeakers resolves sess's speakers, reusing a manifest-
// recorded cache hit when the excerpt used for classification hasn't
// changed, and recording the outcome (and persisting the result for later
// reuse) when it does run.
func (o *Orchestrator) identifySessionSpeakers(ctx context.Context, ident *speaker.Identifier, assigner *speaker.CodeAssigner, sess types.Session, segs []types.Segment, excerpt string, fp types.ProviderFingerprint) []types.Speaker {
	hash := manifest.HashBytes([]byte(excerpt))

	if !o.Manifest.ShouldRunSession(sess.ID, types.StageIdentify, hash, fp, o.ReuseCachedProvider) {
		if cached, err := o.loadCachedSpeakers(sess.ID); err == nil {
			assigner.Advance(maxParticipantCode(cached))
			return cached
		}
	}

	speakers, serr := ident.SessionSpeakers(ctx, sess, segs, excerpt)
	if serr != nil {
		o.logger().Warn("orchestrator: speaker identification failed", "session", sess.ID, "error", serr)
	}
	assigner.AssignSession(speakers)

	status := types.StatusComplete
	if serr != nil {
		status = types.StatusFailed
	} else if err := o.saveSpeakers(sess.ID, speakers); err != nil {
		o.logger().Warn("orchestrator: failed to persist speakers for cache reuse", "session", sess.ID, "error", err)
	}
	o.Manifest.SetSessionStage(sess.ID, types.StageIdentify, manifest.StageRecord{
		Status:      status,
		ContentHash: hash,
		Fingerprint: fp,
	})
	return speakers
}

// ── Stage 8: topic segmentation per-session artefacts ────────────────────

func (o *Orchestrator) topicsArtefactDir() string {
	return filepath.Join(o.OutputDir, ".bristlenose", "intermediate", "topics-sessions")
}

func (o *Orchestrator) topicsArtefactPath(sessionID string) string {
	return filepath.Join(o.topicsArtefactDir(), sessionID+".json")
}

func (o *Orchestrator) loadCachedBoundaries(sessionID string) ([]types.TopicBoundary, error) {
	data, err := os.ReadFile(o.topicsArtefactPath(sessionID))
	if err != nil {
		return nil, err
	}
	var b []types.TopicBoundary
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (o *Orchestrator) saveBoundaries(sessionID string, b []types.TopicBoundary) error {
	dir := o.topicsArtefactDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create topics artefact dir: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal boundaries: %w", err)
	}
	return os.WriteFile(o.topicsArtefactPath(sessionID), data, 0o644)
}

// segmentSessionCached returns sess's topic boundaries, reusing a cached
// result when valid and otherwise running and recording Stage 8 for this
// session alone.
func (o *Orchestrator) segmentSessionCached(ctx context.Context, seg *topics.Segmenter, sess types.Session, transcriptText map[string]string, fp types.ProviderFingerprint) []types.TopicBoundary {
	hash := manifest.HashBytes([]byte(transcriptText[sess.ID]))

	if !o.Manifest.ShouldRunSession(sess.ID, types.StageTopics, hash, fp, o.ReuseCachedProvider) {
		if cached, err := o.loadCachedBoundaries(sess.ID); err == nil {
			o.logger().Info("orchestrator: skipping topic segmentation, session already complete", "session", sess.ID)
			return cached
		}
	}

	results := seg.SegmentAllDetailed(ctx, []types.Session{sess}, transcriptText)
	r := results[0]

	status := types.StatusComplete
	if r.Err != nil {
		status = types.StatusFailed
	} else if err := o.saveBoundaries(sess.ID, r.Boundaries); err != nil {
		o.logger().Warn("orchestrator: failed to persist topic boundaries for cache reuse", "session", sess.ID, "error", err)
	}
	o.Manifest.SetSessionStage(sess.ID, types.StageTopics, manifest.StageRecord{
		Status:      status,
		ContentHash: hash,
		Fingerprint: fp,
	})
	return r.Boundaries
}

// runTopics runs Stage 8 across every session, short-circuiting the whole
// stage when nothing has changed since the last complete run, and
// otherwise segmenting per-session under the concurrency bound while
// still recording each session's own cache entry.
func (o *Orchestrator) runTopics(ctx context.Context, client *llmclient.Client, sessions []types.Session, transcriptText map[string]string) (map[string][]types.TopicBoundary, error) {
	fp := o.llmFingerprint()
	artefactPath := o.intermediatePath(types.StageTopics)
	hash := wholeStageHash(transcriptText)

	if !o.Manifest.ShouldRunStage(types.StageTopics, artefactPath, hash, fp, o.ReuseCachedProvider) {
		var cached map[string][]types.TopicBoundary
		if data, err := os.ReadFile(artefactPath); err == nil {
			if err := json.Unmarshal(data, &cached); err == nil {
				o.logger().Info("orchestrator: skipping topic segmentation, stage already complete")
				return cached, nil
			}
		}
	}

	started := time.Now()
	seg := topics.New(client, topics.WithConcurrency(o.concurrencyOrDefault()), topics.WithLogger(o.logger()))
	results := runOrdered(ctx, sessions, o.concurrencyOrDefault(), func(ctx context.Context, sess types.Session) []types.TopicBoundary {
		return o.segmentSessionCached(ctx, seg, sess, transcriptText, fp)
	})

	boundaries := make(map[string][]types.TopicBoundary, len(sessions))
	failed := 0
	for i, sess := range sessions {
		boundaries[sess.ID] = results[i]
		if rec, ok := o.Manifest.SessionStage(sess.ID, types.StageTopics); ok && rec.Status == types.StatusFailed {
			failed++
		}
	}

	if err := o.persist(types.StageTopics, boundaries); err != nil {
		return nil, err
	}
	o.Manifest.SetStage(types.StageTopics, manifest.StageRecord{
		Status:       stageStatus(failed, len(sessions)),
		ContentHash:  hash,
		Fingerprint:  fp,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		SessionCount: len(sessions),
	})
	if err := o.Manifest.Save(); err != nil {
		return nil, fmt.Errorf("orchestrator: save manifest after topics: %w", err)
	}
	return boundaries, nil
}

// ── Stage 9: quote extraction per-session artefacts ──────────────────────

func (o *Orchestrator) quotesArtefactDir() string {
	return filepath.Join(o.OutputDir, ".bristlenose", "intermediate", "quotes-sessions")
}

func (o *Orchestrator) quotesArtefactPath(sessionID string) string {
	return filepath.Join(o.quotesArtefactDir(), sessionID+".json")
}

func (o *Orchestrator) loadCachedQuotes(sessionID string) ([]types.Quote, error) {
	data, err := os.ReadFile(o.quotesArtefactPath(sessionID))
	if err != nil {
		return nil, err
	}
	var qs []types.Quote
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

func (o *Orchestrator) saveQuotes(sessionID string, qs []types.Quote) error {
	dir := o.quotesArtefactDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create quotes artefact dir: %w", err)
	}
	data, err := json.Marshal(qs)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal quotes: %w", err)
	}
	return os.WriteFile(o.quotesArtefactPath(sessionID), data, 0o644)
}

// extractSessionCached returns sess's quotes, reusing a cached result when
// valid and otherwise running and recording Stage 9 for this session
// alone.
func (o *Orchestrator) extractSessionCached(ctx context.Context, ex *quotes.Extractor, sess types.Session, transcriptText map[string]string, boundaries map[string][]types.TopicBoundary, fp types.ProviderFingerprint) []types.Quote {
	hash := manifest.HashBytes([]byte(transcriptText[sess.ID] + fmt.Sprintf("%v", boundaries[sess.ID])))

	if !o.Manifest.ShouldRunSession(sess.ID, types.StageQuotes, hash, fp, o.ReuseCachedProvider) {
		if cached, err := o.loadCachedQuotes(sess.ID); err == nil {
			o.logger().Info("orchestrator: skipping quote extraction, session already complete", "session", sess.ID)
			return cached
		}
	}

	results := ex.ExtractAllDetailed(ctx, []types.Session{sess}, transcriptText, boundaries)
	r := results[0]

	status := types.StatusComplete
	if r.Err != nil {
		status = types.StatusFailed
	} else if err := o.saveQuotes(sess.ID, r.Quotes); err != nil {
		o.logger().Warn("orchestrator: failed to persist quotes for cache reuse", "session", sess.ID, "error", err)
	}
	o.Manifest.SetSessionStage(sess.ID, types.StageQuotes, manifest.StageRecord{
		Status:      status,
		ContentHash: hash,
		Fingerprint: fp,
	})
	return r.Quotes
}

// runQuotes runs Stage 9 across every session, short-circuiting the whole
// stage when nothing has changed since the last complete run (including
// the Stage 8 boundaries it depends on), and otherwise extracting
// per-session under the concurrency bound while still recording each
// session's own cache entry.
func (o *Orchestrator) runQuotes(ctx context.Context, client *llmclient.Client, sessions []types.Session, transcriptText map[string]string, boundaries map[string][]types.TopicBoundary) ([]types.Quote, error) {
	fp := o.llmFingerprint()
	artefactPath := o.intermediatePath(types.StageQuotes)
	hash := quotesStageHash(transcriptText, boundaries)

	if !o.Manifest.ShouldRunStage(types.StageQuotes, artefactPath, hash, fp, o.ReuseCachedProvider) {
		var cached []types.Quote
		if data, err := os.ReadFile(artefactPath); err == nil {
			if err := json.Unmarshal(data, &cached); err == nil {
				o.logger().Info("orchestrator: skipping quote extraction, stage already complete")
				return cached, nil
			}
		}
	}

	started := time.Now()
	ex := quotes.New(client, quotes.WithConcurrency(o.concurrencyOrDefault()), quotes.WithLogger(o.logger()))
	results := runOrdered(ctx, sessions, o.concurrencyOrDefault(), func(ctx context.Context, sess types.Session) []types.Quote {
		return o.extractSessionCached(ctx, ex, sess, transcriptText, boundaries, fp)
	})

	var allQuotes []types.Quote
	failed := 0
	for i, sess := range sessions {
		allQuotes = append(allQuotes, results[i]...)
		if rec, ok := o.Manifest.SessionStage(sess.ID, types.StageQuotes); ok && rec.Status == types.StatusFailed {
			failed++
		}
	}

	if err := o.persist(types.StageQuotes, allQuotes); err != nil {
		return nil, err
	}
	o.Manifest.SetStage(types.StageQuotes, manifest.StageRecord{
		Status:       stageStatus(failed, len(sessions)),
		ContentHash:  hash,
		Fingerprint:  fp,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		SessionCount: len(sessions),
	})
	if err := o.Manifest.Save(); err != nil {
		return nil, fmt.Errorf("orchestrator: save manifest after quotes: %w", err)
	}
	return allQuotes, nil
}

// ── Stages 10/11: whole-batch screen clustering and thematic grouping ───

// runScreens runs Stage 10, short-circuiting entirely when the screen
// quote set and provider fingerprint match the last complete run.
func (o *Orchestrator) runScreens(ctx context.Context, client *llmclient.Client, screenQuotes []types.Quote, fp types.ProviderFingerprint) ([]types.ScreenCluster, error) {
	artefactPath := o.intermediatePath(types.StageScreens)
	hash := manifest.HashBytes([]byte(fmt.Sprintf("%v", screenQuotes)))

	if !o.Manifest.ShouldRunStage(types.StageScreens, artefactPath, hash, fp, o.ReuseCachedProvider) {
		var cached []types.ScreenCluster
		if data, err := os.ReadFile(artefactPath); err == nil {
			if err := json.Unmarshal(data, &cached); err == nil {
				o.logger().Info("orchestrator: skipping screen clustering, stage already complete")
				return cached, nil
			}
		}
	}

	started := time.Now()
	clusters, err := screens.New(client).Cluster(ctx, screenQuotes)
	status := types.StatusComplete
	if err != nil {
		status = types.StatusFailed
	}
	o.Manifest.SetStage(types.StageScreens, manifest.StageRecord{
		Status:       status,
		ContentHash:  hash,
		Fingerprint:  fp,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		SessionCount: len(screenQuotes),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: screen clustering: %w", err)
	}
	if err := o.persist(types.StageScreens, clusters); err != nil {
		return nil, err
	}
	if err := o.Manifest.Save(); err != nil {
		return nil, fmt.Errorf("orchestrator: save manifest after screens: %w", err)
	}
	return clusters, nil
}

// runThemes runs Stage 11, short-circuiting entirely when the
// general-context quote set and provider fingerprint match the last
// complete run.
func (o *Orchestrator) runThemes(ctx context.Context, client *llmclient.Client, generalQuotes []types.Quote, fp types.ProviderFingerprint) ([]types.Theme, error) {
	artefactPath := o.intermediatePath(types.StageThemes)
	hash := manifest.HashBytes([]byte(fmt.Sprintf("%v", generalQuotes)))

	if !o.Manifest.ShouldRunStage(types.StageThemes, artefactPath, hash, fp, o.ReuseCachedProvider) {
		var cached []types.Theme
		if data, err := os.ReadFile(artefactPath); err == nil {
			if err := json.Unmarshal(data, &cached); err == nil {
				o.logger().Info("orchestrator: skipping thematic grouping, stage already complete")
				return cached, nil
			}
		}
	}

	started := time.Now()
	th, err := themes.New(client).Group(ctx, generalQuotes)
	status := types.StatusComplete
	if err != nil {
		status = types.StatusFailed
	}
	o.Manifest.SetStage(types.StageThemes, manifest.StageRecord{
		Status:       status,
		ContentHash:  hash,
		Fingerprint:  fp,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		SessionCount: len(generalQuotes),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: thematic grouping: %w", err)
	}
	if err := o.persist(types.StageThemes, th); err != nil {
		return nil, err
	}
	if err := o.Manifest.Save(); err != nil {
		return nil, fmt.Errorf("orchestrator: save manifest after themes: %w", err)
	}
	return th, nil
}
