// Package transcriber implements Stage 5: sequential batch transcription of
// session audio, the one stage deliberately excluded from the bounded
// concurrency model because a local whisper.cpp backend is single-tenant
// and GPU-bound — running two transcriptions at once only contends for the
// same device.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	"github.com/bristlenose/bristlenose/pkg/types"
)

// Result is the outcome of transcribing one session.
type Result struct {
	SessionID  string
	Segments   []types.Segment
	Language   string
	Err        error
	Skipped    bool
	FromCache  bool
}

// Transcriber runs Stage 5 sequentially over a batch of sessions.
type Transcriber struct {
	provider    stt.Provider
	man         *manifest.Manifest
	model       string
	log         *slog.Logger
	artefactDir string
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) { t.log = l }
}

// WithArtefactDir sets the directory a completed session's segments are
// persisted to, and read back from on a cache hit. Without it, a cache hit
// still skips re-transcribing but cannot recover the session's segments.
func WithArtefactDir(dir string) Option {
	return func(t *Transcriber) { t.artefactDir = dir }
}

// New returns a Transcriber that transcribes with provider, identified by
// model for cache-key and fingerprint purposes, recording progress into
// man.
func New(provider stt.Provider, man *manifest.Manifest, model string, opts ...Option) *Transcriber {
	t := &Transcriber{
		provider: provider,
		man:      man,
		model:    model,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// wavPathFunc resolves a session ID to its decoded scratch WAV path.
type wavPathFunc func(sessionID string) (string, error)

// TranscribeAll transcribes every session in sessions that does not
// already have a platform-exported transcript, sequentially, skipping any
// session whose cache key (content hash of its WAV plus model identifier)
// already has a complete manifest record. wavPath resolves a session ID to
// the path of its decoded audio; it is called only for sessions requiring
// transcription.
func (t *Transcriber) TranscribeAll(ctx context.Context, sessions []types.Session, wavPath wavPathFunc) []Result {
	results := make([]Result, len(sessions))
	fp := types.ProviderFingerprint{Vendor: "whisper.cpp", Model: t.model}

	for i, sess := range sessions {
		if sess.HasExistingTranscript {
			results[i] = Result{SessionID: sess.ID, Skipped: true}
			continue
		}

		path, err := wavPath(sess.ID)
		if err != nil {
			results[i] = Result{SessionID: sess.ID, Err: fmt.Errorf("transcriber: resolve wav for %s: %w", sess.ID, err)}
			continue
		}

		hash, err := manifest.HashFile(path)
		if err != nil {
			results[i] = Result{SessionID: sess.ID, Err: fmt.Errorf("transcriber: hash %s: %w", path, err)}
			continue
		}

		if !t.man.ShouldRunSession(sess.ID, types.StageTranscribe, hash, fp, true) {
			segs, cerr := t.loadCachedSegments(sess.ID)
			if cerr == nil || t.artefactDir == "" {
				t.log.Info("transcriber: skipping session, already complete", "session", sess.ID)
				results[i] = Result{SessionID: sess.ID, Segments: segs, FromCache: true}
				continue
			}
			t.log.Warn("transcriber: cached segments unreadable, re-transcribing", "session", sess.ID, "error", cerr)
		}

		t.man.SetSessionStage(sess.ID, types.StageTranscribe, manifest.StageRecord{
			Status:      types.StatusPending,
			ContentHash: hash,
			Fingerprint: fp,
		})

		transcript, err := t.provider.Transcribe(ctx, path, stt.Options{})
		if err != nil {
			t.log.Warn("transcriber: session failed", "session", sess.ID, "error", err)
			t.man.SetSessionStage(sess.ID, types.StageTranscribe, manifest.StageRecord{
				Status:      types.StatusFailed,
				ContentHash: hash,
				Fingerprint: fp,
			})
			results[i] = Result{SessionID: sess.ID, Err: err}
			continue
		}

		segs := toSegments(sess.ID, transcript)
		if err := t.saveSegments(sess.ID, segs); err != nil {
			t.log.Warn("transcriber: failed to persist segments for cache reuse", "session", sess.ID, "error", err)
		}
		t.man.SetSessionStage(sess.ID, types.StageTranscribe, manifest.StageRecord{
			Status:      types.StatusComplete,
			ContentHash: hash,
			Fingerprint: fp,
		})
		results[i] = Result{SessionID: sess.ID, Segments: segs, Language: transcript.Language}
	}

	return results
}

// sessionArtefactPath returns the path a session's transcribed segments are
// persisted to, so a manifest cache hit can recover them without re-running
// the STT provider.
func (t *Transcriber) sessionArtefactPath(sessionID string) string {
	return filepath.Join(t.artefactDir, sessionID+".json")
}

// loadCachedSegments reads back a previously persisted session's segments.
func (t *Transcriber) loadCachedSegments(sessionID string) ([]types.Segment, error) {
	if t.artefactDir == "" {
		return nil, fmt.Errorf("transcriber: no artefact dir configured")
	}
	data, err := os.ReadFile(t.sessionArtefactPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("transcriber: read cached segments: %w", err)
	}
	var segs []types.Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("transcriber: decode cached segments: %w", err)
	}
	return segs, nil
}

// saveSegments persists a completed session's segments so a later resumed
// run can recover them on a cache hit. A no-op if no artefact dir was
// configured.
func (t *Transcriber) saveSegments(sessionID string, segs []types.Segment) error {
	if t.artefactDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.artefactDir, 0o755); err != nil {
		return fmt.Errorf("transcriber: create artefact dir: %w", err)
	}
	data, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("transcriber: marshal segments: %w", err)
	}
	return os.WriteFile(t.sessionArtefactPath(sessionID), data, 0o644)
}

// toSegments converts the provider's segment shape into the pipeline's
// shared Segment model.
func toSegments(sessionID string, tr *stt.Transcript) []types.Segment {
	out := make([]types.Segment, 0, len(tr.Segments))
	for _, s := range tr.Segments {
		var words []types.WordDetail
		for _, w := range s.Words {
			words = append(words, types.WordDetail{Text: w.Text, Start: w.Start, End: w.End})
		}
		out = append(out, types.Segment{
			SessionID:    sessionID,
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			Words:        words,
			SpeakerLabel: s.SpeakerLabel,
		})
	}
	return out
}
