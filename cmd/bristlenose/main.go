// Command bristlenose is the main entry point for the interview analysis
// pipeline. It loads a YAML configuration file, wires the configured LLM
// and STT providers, resumes or starts a run against an input directory,
// and drives the pipeline stages to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/bristlenose/bristlenose/internal/audioextract"
	"github.com/bristlenose/bristlenose/internal/config"
	"github.com/bristlenose/bristlenose/internal/llmclient"
	"github.com/bristlenose/bristlenose/internal/manifest"
	"github.com/bristlenose/bristlenose/internal/observe"
	"github.com/bristlenose/bristlenose/internal/orchestrator"
	"github.com/bristlenose/bristlenose/internal/peopleregistry"
	"github.com/bristlenose/bristlenose/internal/resilience"
	"github.com/bristlenose/bristlenose/pkg/provider/llm"
	"github.com/bristlenose/bristlenose/pkg/provider/llm/anyllm"
	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	"github.com/bristlenose/bristlenose/pkg/provider/stt/whisper"
	"github.com/bristlenose/bristlenose/pkg/types"
)

const pipelineVersion = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "bristlenose.yaml", "path to the YAML configuration file")
	chained := flag.Bool("chained", false, "use the per-session Stage 8/9 chained schedule instead of the baseline two-fan-out schedule")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "bristlenose: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "bristlenose: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	inputDir := cfg.Directories.Input
	if inputDir == "" {
		inputDir = "."
	}
	outputDir := cfg.Directories.Output
	if outputDir == "" {
		outputDir = filepath.Join(inputDir, "bristlenose-output")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: pipelineVersion})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics instruments", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, err := buildLLMProvider(cfg.Providers.LLM, reg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	sttProvider, err := buildSTTProvider(cfg.Providers.STT, reg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}

	man, err := manifest.Load(outputDir, filepath.Base(inputDir), pipelineVersion)
	if err != nil {
		slog.Error("failed to load manifest", "err", err)
		return 1
	}

	registryPath := filepath.Join(outputDir, "people.yaml")
	registry, err := peopleregistry.Load(registryPath)
	if err != nil {
		slog.Error("failed to load people registry", "err", err)
		return 1
	}

	printResumeSummary(man, outputDir)

	scratchCleanup := orchestratorCleanupPolicy(cfg.Directories.ScratchCleanup)

	var respCache *manifest.Cache
	if cfg.Pipeline.ResponseCache {
		respCache, err = manifest.OpenCache(outputDir)
		if err != nil {
			slog.Error("failed to open response cache", "err", err)
			return 1
		}
		defer respCache.Close()
	}

	o := &orchestrator.Orchestrator{
		LLMProvider:         llmProvider,
		LLMName:             cfg.Providers.LLM.Name,
		LLMModel:            cfg.Providers.LLM.Model,
		STTProvider:         sttProvider,
		STTModel:            cfg.Providers.STT.Model,
		InputDir:            inputDir,
		OutputDir:           outputDir,
		Concurrency:         int64(cfg.Concurrency()),
		ReuseCachedProvider: cfg.Pipeline.ReuseCachedProvider,
		ScratchCleanup:      scratchCleanup,
		RedactionEnabled:    cfg.Redaction.Enabled,
		Manifest:            man,
		Registry:            registry,
		Metrics:             metrics,
		Tracker:             llmclient.NewTracker(metrics),
		Cache:               respCache,
		Log:                 logger,
	}

	runFn := o.Run
	if *chained {
		runFn = o.RunChained
	}

	out, err := runFn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("pipeline run failed", "err", err)
		return 1
	}

	if err := man.Save(); err != nil {
		slog.Error("failed to save manifest", "err", err)
		return 1
	}
	if err := registry.Save(registryPath); err != nil {
		slog.Error("failed to save people registry", "err", err)
		return 1
	}

	if out != nil {
		input, output, costUSD := o.Tracker.Totals()
		slog.Info("pipeline run complete",
			"sessions", len(out.Sessions),
			"quotes", len(out.Quotes),
			"screens", len(out.Screens),
			"themes", len(out.Themes),
			"input_tokens", input,
			"output_tokens", output,
			"estimated_cost_usd", costUSD,
		)
	}
	return 0
}

// ── Provider wiring ──────────────────────────────────────────────────────

// registerBuiltinProviders registers every provider implementation this
// build ships with. Providers named in config but not registered here fail
// fast at buildLLMProvider/buildSTTProvider time with a clear error.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("openai", e)
	})
	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("anthropic", e)
	})
	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("gemini", e)
	})
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("ollama", e)
	})
	reg.RegisterLLM("deepseek", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("deepseek", e)
	})
	reg.RegisterLLM("mistral", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("mistral", e)
	})
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("groq", e)
	})
	reg.RegisterLLM("llamacpp", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("llamacpp", e)
	})
	reg.RegisterLLM("llamafile", func(e config.ProviderEntry) (llm.Provider, error) {
		return newAnyLLMProvider("llamafile", e)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		serverURL := e.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		backend, err := whisper.New(serverURL)
		if err != nil {
			return nil, err
		}
		return wrapSTTFallback(backend, e.Name), nil
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath, _ := e.Options["model_path"].(string)
		if modelPath == "" {
			return nil, fmt.Errorf("stt provider %q requires options.model_path", e.Name)
		}
		backend, err := whisper.NewNative(modelPath)
		if err != nil {
			return nil, err
		}
		return wrapSTTFallback(backend, e.Name), nil
	})
}

// wrapSTTFallback gives a single-backend STT provider its own circuit
// breaker, so a whisper server that starts timing out mid-batch fails fast
// for the remaining sessions instead of hanging each one out to its own
// request timeout.
func wrapSTTFallback(primary stt.Provider, name string) stt.Provider {
	return resilience.NewSTTFallback(primary, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5},
	})
}

// newAnyLLMProvider resolves the provider's credential per the documented
// keyring → env → dotfile priority and constructs a backend over
// any-llm-go, wrapping it in a circuit breaker so a flaky endpoint during a
// long batch run fails fast instead of every call paying for llmclient's
// own retries.
func newAnyLLMProvider(providerName string, e config.ProviderEntry) (llm.Provider, error) {
	apiKey := e.APIKey
	if apiKey == "" {
		envVar := providerEnvVar(providerName)
		secret, source, err := llmclient.ResolveCredential(providerName, envVar, ".env")
		if err != nil {
			return nil, fmt.Errorf("resolve credential for %q: %w", providerName, err)
		}
		if secret == "" {
			return nil, fmt.Errorf("no credential found for provider %q (checked keyring, %s, .env)", providerName, envVar)
		}
		apiKey = secret
		slog.Debug("resolved llm credential", "provider", providerName, "source", source)
	}

	opts := []anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}

	backend, err := anyllm.New(providerName, e.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", providerName, err)
	}

	breaker := resilience.NewLLMFallback(backend, providerName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5},
	})
	return breaker, nil
}

// providerEnvVar maps a provider name to the environment variable its API
// key is conventionally stored under.
func providerEnvVar(providerName string) string {
	switch providerName {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "deepseek":
		return "DEEPSEEK_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return strings.ToUpper(providerName) + "_API_KEY"
	}
}

func buildLLMProvider(entry config.ProviderEntry, reg *config.Registry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("providers.llm.name must be set")
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func buildSTTProvider(entry config.ProviderEntry, reg *config.Registry) (stt.Provider, error) {
	if entry.Name == "" {
		return nil, fmt.Errorf("providers.stt.name must be set")
	}
	p, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func orchestratorCleanupPolicy(p config.ScratchCleanupPolicy) audioextract.CleanupPolicy {
	if p == config.ScratchDeleteAfterTranscribe {
		return audioextract.CleanupDeleteAfterTranscribe
	}
	return audioextract.CleanupKeepAll
}

// ── Startup / resume summary ─────────────────────────────────────────────

func printResumeSummary(m *manifest.Manifest, outputDir string) {
	summary := m.Summarize(filepath.Join(outputDir, ".bristlenose", "intermediate"))
	if len(summary.Stages) == 0 {
		fmt.Println("bristlenose: no prior run found, starting fresh")
		return
	}

	total := summary.SessionsByStage[types.StageGroup]
	fmt.Printf("bristlenose: resuming run %s\n", m.RunID())
	if quotesDone, ok := summary.SessionsByStage[types.StageQuotes]; ok && total > 0 {
		fmt.Printf("  %d/%d sessions have quotes, %d remaining\n", quotesDone, total, total-quotesDone)
	}
	for stage, rec := range summary.Stages {
		fmt.Printf("  stage %-10s status=%-10s\n", stage, rec.Status)
	}
	for _, w := range summary.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

// ── Logger ────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
