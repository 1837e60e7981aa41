// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all sessions; each Transcribe call opens its own
// whisper.cpp context so concurrent sessions never contend on decoder state.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default BCP-47 language code for
// transcription (e.g., "en", "de", "fr"). Defaults to "en". Overridden
// per call by a non-empty Options.Language.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent Transcribe calls. The caller must call Close when the provider
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes the mono 16kHz WAV file at wavPath and runs a single
// whisper.cpp inference pass over it, returning segment- and word-level
// timing.
func (p *NativeProvider) Transcribe(ctx context.Context, wavPath string, opts stt.Options) (*stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	samples, sampleRate, err := readWAVFloat32Mono(wavPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: read %q: %w", wavPath, err)
	}
	if sampleRate != defaultSampleRate {
		return nil, fmt.Errorf("whisper: %q has sample rate %d, expected %d", wavPath, sampleRate, defaultSampleRate)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	if opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(opts.InitialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	transcript := &stt.Transcript{Language: lang}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		out := stt.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		}
		for _, tok := range seg.Tokens {
			tokText := strings.TrimSpace(tok.Text)
			if tokText == "" || strings.HasPrefix(tokText, "[_") {
				continue
			}
			out.Words = append(out.Words, stt.Word{
				Text:       tokText,
				Start:      tok.Start.Seconds(),
				End:        tok.End.Seconds(),
				Confidence: float64(tok.P),
			})
		}
		transcript.Segments = append(transcript.Segments, out)
	}

	return transcript, nil
}
