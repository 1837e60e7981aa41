// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// An STT provider wraps a transcription engine (e.g., a native whisper.cpp
// model, or a running whisper.cpp inference server) and exposes a uniform
// batch interface: given a path to a decoded audio file, produce a full
// Transcript. Unlike a live-captioning system, the pipeline has no latency
// budget — every provider call is a single blocking round trip per session.
//
// Implementations must be safe for concurrent use. Stage 5
// (internal/transcriber) calls Transcribe for one session at a time.
package stt

import "context"

// Options carries recognition hints for a single Transcribe call.
type Options struct {
	// Language is a BCP-47 language tag (e.g., "en"). Empty lets the
	// provider auto-detect.
	Language string

	// InitialPrompt is optional context text that biases recognition
	// towards domain vocabulary (participant names, product terms).
	InitialPrompt string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe reads the audio at wavPath (always mono 16kHz PCM WAV,
	// produced by the audio extraction stage) and returns the full
	// Transcript. Returns an error if the file cannot be read or decoding
	// fails; ctx cancellation aborts the call as soon as the backend
	// supports it.
	Transcribe(ctx context.Context, wavPath string, opts Options) (*Transcript, error)
}
