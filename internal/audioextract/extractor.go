// Package audioextract implements Stage 2: bounded-concurrency decoding of
// session media files to 16 kHz mono WAV via an external ffmpeg
// subprocess, the format whisper.cpp expects.
package audioextract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// DefaultConcurrency is the fixed number of concurrent ffmpeg decoders,
// per §5 of the concurrency model.
const DefaultConcurrency = 4

// CleanupPolicy governs what happens to a session's decoded WAV file once
// it is no longer needed.
type CleanupPolicy string

const (
	// CleanupKeepAll never removes scratch WAVs; useful for debugging or
	// re-running the transcriber against the same decode.
	CleanupKeepAll CleanupPolicy = "keep_all"

	// CleanupDeleteAfterTranscribe removes a session's WAV as soon as
	// transcription for that session completes (Stage 5 calls [Extractor.Forget]).
	CleanupDeleteAfterTranscribe CleanupPolicy = "delete_after_transcribe"
)

// Result is the outcome of decoding one session.
type Result struct {
	SessionID string
	WAVPath   string
	Err       error
}

// Extractor decodes session media to scratch WAVs under a bounded number of
// concurrent ffmpeg subprocesses.
type Extractor struct {
	scratchDir  string
	concurrency int64
	cleanup     CleanupPolicy
	ffmpegPath  string

	mu      sync.Mutex
	decoded map[string]string // sessionID -> wav path, for cleanup bookkeeping
}

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int64) Option {
	return func(e *Extractor) { e.concurrency = n }
}

// WithCleanupPolicy sets the scratch-WAV lifecycle policy. Default
// CleanupKeepAll.
func WithCleanupPolicy(p CleanupPolicy) Option {
	return func(e *Extractor) { e.cleanup = p }
}

// WithFFmpegPath overrides the ffmpeg binary name/path looked up on PATH.
// Default "ffmpeg".
func WithFFmpegPath(path string) Option {
	return func(e *Extractor) { e.ffmpegPath = path }
}

// New returns an Extractor that writes scratch WAVs under scratchDir,
// creating it if necessary.
func New(scratchDir string, opts ...Option) (*Extractor, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("audioextract: create scratch dir: %w", err)
	}
	e := &Extractor{
		scratchDir:  scratchDir,
		concurrency: DefaultConcurrency,
		cleanup:     CleanupKeepAll,
		ffmpegPath:  "ffmpeg",
		decoded:     make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// ExtractAll decodes every session in sessions that does not already have
// an existing transcript, bounded by the extractor's concurrency. Results
// preserve session order regardless of completion order. A per-session
// decode failure is recorded in its Result and does not abort the batch.
func (e *Extractor) ExtractAll(ctx context.Context, sessions []types.Session) []Result {
	sem := semaphore.NewWeighted(e.concurrency)
	results := make([]Result, len(sessions))

	var wg sync.WaitGroup
	for i, sess := range sessions {
		if sess.HasExistingTranscript {
			results[i] = Result{SessionID: sess.ID}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{SessionID: sess.ID, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, sess types.Session) {
			defer wg.Done()
			defer sem.Release(1)
			wavPath, err := e.extractOne(ctx, sess)
			results[i] = Result{SessionID: sess.ID, WAVPath: wavPath, Err: err}
		}(i, sess)
	}
	wg.Wait()
	return results
}

// extractOne picks the first media source file for sess and decodes it to
// 16kHz mono WAV via ffmpeg.
func (e *Extractor) extractOne(ctx context.Context, sess types.Session) (string, error) {
	src := firstMediaPath(sess.Paths)
	if src == "" {
		return "", fmt.Errorf("audioextract: session %s has no media source", sess.ID)
	}

	out := filepath.Join(e.scratchDir, sess.ID+".wav")
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y",
		"-hwaccel", "auto",
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("audioextract: ffmpeg decode of %q: %w: %s", src, err, string(output))
	}

	e.mu.Lock()
	e.decoded[sess.ID] = out
	e.mu.Unlock()

	return out, nil
}

// Forget applies the cleanup policy for a session whose downstream
// transcription has completed: CleanupDeleteAfterTranscribe removes the
// scratch WAV; CleanupKeepAll is a no-op.
func (e *Extractor) Forget(sessionID string) error {
	if e.cleanup != CleanupDeleteAfterTranscribe {
		return nil
	}
	e.mu.Lock()
	path, ok := e.decoded[sessionID]
	delete(e.decoded, sessionID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audioextract: remove scratch wav %q: %w", path, err)
	}
	return nil
}

func firstMediaPath(paths []string) string {
	for _, p := range paths {
		ext := filepath.Ext(p)
		if transcriptExt[ext] {
			continue
		}
		return p
	}
	return ""
}

var transcriptExt = map[string]bool{".vtt": true, ".srt": true, ".docx": true}
