// Package config provides the configuration schema, loader, and provider
// registry for the bristlenose pipeline.
package config

// Config is the root configuration structure for a bristlenose run.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Redaction   RedactionConfig   `yaml:"redaction"`
	Directories DirectoriesConfig `yaml:"directories"`
}

// ServerConfig holds process-wide logging settings. Bristlenose is a
// one-shot CLI pipeline, not a long-running server, but the field name is
// kept to match the layout of its sibling fields.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage that calls out to a model. Each field selects a named
// provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "anthropic", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. When empty,
	// credential resolution falls back to the OS keyring, then the
	// environment, then a dotfile — see internal/llmclient.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "claude-opus-4", "base.en").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig tunes the orchestrator's concurrency and caching behaviour.
type PipelineConfig struct {
	// Concurrency bounds the number of sessions processed at once by the
	// per-session LLM stages (speaker identification, topic segmentation,
	// quote extraction). Defaults to 3 when zero or negative.
	Concurrency int `yaml:"concurrency"`

	// ReuseCachedProvider allows a resumed run to skip a stage whose
	// artefact was produced by a different provider fingerprint than the
	// one currently configured, treating the prior output as still valid.
	ReuseCachedProvider bool `yaml:"reuse_cached_provider"`

	// ResponseCache enables the bbolt-backed LLM response cache keyed by
	// request content hash, avoiding duplicate calls across resumed runs.
	ResponseCache bool `yaml:"response_cache"`
}

// RedactionConfig controls the optional PII redaction stage (Stage 7).
type RedactionConfig struct {
	// Enabled turns on PII redaction. When false the stage is a pass-through
	// and no audit log is produced.
	Enabled bool `yaml:"enabled"`
}

// DirectoriesConfig overrides the default input/output/scratch layout.
// Any empty field falls back to the convention documented for the
// orchestrator (output nested under the input directory).
type DirectoriesConfig struct {
	// Input is the directory containing raw session recordings and
	// platform-exported transcripts.
	Input string `yaml:"input"`

	// Output overrides the default `<input>/bristlenose-output/` location.
	Output string `yaml:"output"`

	// ScratchCleanup controls what happens to extracted WAV files once a
	// session's transcription completes.
	// Valid values: "keep" (default), "delete_after_transcribe".
	ScratchCleanup ScratchCleanupPolicy `yaml:"scratch_cleanup"`
}

// ScratchCleanupPolicy selects when temporary extracted-audio WAV files are removed.
type ScratchCleanupPolicy string

const (
	ScratchKeep                   ScratchCleanupPolicy = "keep"
	ScratchDeleteAfterTranscribe  ScratchCleanupPolicy = "delete_after_transcribe"
)

// IsValid reports whether p is a recognised cleanup policy.
func (p ScratchCleanupPolicy) IsValid() bool {
	switch p {
	case ScratchKeep, ScratchDeleteAfterTranscribe, "":
		return true
	}
	return false
}
