package resilience

import (
	"context"

	"github.com/bristlenose/bristlenose/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. A transcription
// session is always a single batch call, so failover is a plain retry against
// the next backend rather than a mid-stream handoff.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the transcription against the first healthy provider. If the
// primary fails, subsequent fallbacks are tried against the same WAV file.
func (f *STTFallback) Transcribe(ctx context.Context, wavPath string, opts stt.Options) (*stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, wavPath, opts)
	})
}
