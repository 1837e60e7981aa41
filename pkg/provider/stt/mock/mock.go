// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify that the transcriber calls Transcribe with the
// expected WAV path and options, and to feed a controlled Transcript without
// a live whisper backend.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResponse: &stt.Transcript{Segments: []stt.Segment{{Text: "hello"}}},
//	}
//	got, _ := p.Transcribe(ctx, "session.wav", stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/bristlenose/bristlenose/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx     context.Context
	WavPath string
	Opts    stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeResponse is returned by every call to Transcribe. May be nil.
	TranscribeResponse *stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns TranscribeResponse, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, wavPath string, opts stt.Options) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, WavPath: wavPath, Opts: opts})
	return p.TranscribeResponse, p.TranscribeErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
