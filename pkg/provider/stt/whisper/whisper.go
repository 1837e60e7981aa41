// Package whisper provides local whisper.cpp-backed STT providers: Provider,
// which talks to a running whisper-server binary over HTTP, and
// NativeProvider (native.go), which links the whisper.cpp CGO bindings
// directly into the process.
//
// Both providers are batch-only: they accept the path to a complete WAV file
// produced by the audio extraction stage and return one Transcript. There is
// no streaming session and no silence detection — whisper.cpp decides
// segment boundaries itself from the full utterance.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	transcript, err := p.Transcribe(ctx, "session.wav", stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bristlenose/bristlenose/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM
	// audio that whisper.cpp expects.
	bitsPerSample = 16

	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// errNotSupported is reserved for whisper.cpp capabilities this package
// cannot offer (e.g. mid-call keyword boosting); no caller currently relies
// on it but it documents the gap for any future SessionHandle-style API.
var errNotSupported = errors.New("not supported by whisper.cpp")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en". Overridden per call by a
// non-empty Options.Language.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPTimeout sets the per-request timeout. Defaults to 5 minutes, which
// is generous for a single session-length WAV file.
func WithHTTPTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP
// server's /inference endpoint.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts the WAV file at wavPath to the whisper.cpp server's
// /inference endpoint with response_format=verbose_json and parses the
// segment- and word-level timing out of the response.
func (p *Provider) Transcribe(ctx context.Context, wavPath string, opts stt.Options) (*stt.Transcript, error) {
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: read %q: %w", wavPath, err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if opts.InitialPrompt != "" {
		if err := mw.WriteField("prompt", opts.InitialPrompt); err != nil {
			return nil, fmt.Errorf("whisper: write prompt field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("whisper: write response_format field: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result verboseJSONResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	transcript := &stt.Transcript{Language: lang}
	for _, seg := range result.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out := stt.Segment{Start: seg.Start, End: seg.End, Text: text}
		for _, w := range seg.Words {
			out.Words = append(out.Words, stt.Word{
				Text:       strings.TrimSpace(w.Word),
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Probability,
			})
		}
		transcript.Segments = append(transcript.Segments, out)
	}

	return transcript, nil
}

// verboseJSONResponse mirrors the whisper.cpp server's
// response_format=verbose_json payload.
type verboseJSONResponse struct {
	Text     string          `json:"text"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []verboseWord `json:"words"`
}

type verboseWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}
