// Command callpipeline runs the outbound call-pipeline server: it accepts a
// telephony media-stream connection, plays a scripted patient persona
// against the agent-under-test, and writes a transcript for later review.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxbench/callpipeline/internal/app"
	"github.com/voxbench/callpipeline/internal/config"
	"github.com/voxbench/callpipeline/internal/observe"
	"github.com/voxbench/callpipeline/internal/resilience"
	"github.com/voxbench/callpipeline/pkg/provider/llm"
	"github.com/voxbench/callpipeline/pkg/provider/llm/anyllm"
	"github.com/voxbench/callpipeline/pkg/provider/llm/openai"
	"github.com/voxbench/callpipeline/pkg/provider/stt"
	"github.com/voxbench/callpipeline/pkg/provider/stt/deepgram"
	"github.com/voxbench/callpipeline/pkg/provider/stt/whisper"
	"github.com/voxbench/callpipeline/pkg/provider/tts"
	"github.com/voxbench/callpipeline/pkg/provider/tts/coqui"
	"github.com/voxbench/callpipeline/pkg/provider/tts/elevenlabs"
	"github.com/voxbench/callpipeline/pkg/provider/vad"
	"github.com/voxbench/callpipeline/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callpipeline: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callpipeline: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("callpipeline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"scenario", cfg.Call.ScenarioPath,
	)

	// ── Observability ────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "callpipeline",
	})
	if err != nil {
		slog.Error("failed to init observability provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	// ── Provider registry ────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Application wiring ─────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ─────────────────────────────────────────────────────────

// registerBuiltinProviders registers a factory for every LLM, STT and TTS
// provider name config.ValidProviderNames recognizes, backed by the packages
// under pkg/provider/*. For VAD only "energy" is registered; "silero" passes
// validation but has no built-in factory. Anthropic/Ollama/Gemini/DeepSeek/Mistral/Groq/llama.cpp/
// llamafile all route through any-llm-go's unified client; "openai" is
// wired directly against the raw openai-go SDK instead, exercising both
// dependencies named in DESIGN.md's domain stack.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", newOpenAILLM)
	for _, name := range []string{"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, newAnyLLM(name))
	}

	reg.RegisterSTT("deepgram", newDeepgramSTT)
	reg.RegisterSTT("whisper", newWhisperSTT)
	reg.RegisterSTT("whisper-native", newWhisperNativeSTT)

	reg.RegisterTTS("elevenlabs", newElevenLabsTTS)
	reg.RegisterTTS("coqui", newCoquiTTS)

	reg.RegisterVAD("energy", newEnergyVAD)
}

func newOpenAILLM(entry config.ProviderEntry) (llm.Provider, error) {
	opts := []openai.Option{}
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	return openai.New(entry.APIKey, entry.Model, opts...)
}

func newAnyLLM(providerName string) func(config.ProviderEntry) (llm.Provider, error) {
	return func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(providerName, entry.Model, opts...)
	}
}

func newDeepgramSTT(entry config.ProviderEntry) (stt.Provider, error) {
	var opts []deepgram.Option
	if entry.Model != "" {
		opts = append(opts, deepgram.WithModel(entry.Model))
	}
	return deepgram.New(entry.APIKey, opts...)
}

func newWhisperSTT(entry config.ProviderEntry) (stt.Provider, error) {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	return whisper.New(entry.BaseURL, opts...)
}

func newWhisperNativeSTT(entry config.ProviderEntry) (stt.Provider, error) {
	modelPath, _ := entry.Options["model_path"].(string)
	return whisper.NewNative(modelPath)
}

func newElevenLabsTTS(entry config.ProviderEntry) (tts.Provider, error) {
	var opts []elevenlabs.Option
	if entry.Model != "" {
		opts = append(opts, elevenlabs.WithModel(entry.Model))
	}
	return elevenlabs.New(entry.APIKey, opts...)
}

func newCoquiTTS(entry config.ProviderEntry) (tts.Provider, error) {
	return coqui.New(entry.BaseURL)
}

func newEnergyVAD(entry config.ProviderEntry) (vad.Engine, error) {
	return &energy.Engine{}, nil
}

// fallbackCfg is the shared circuit breaker tuning used to wrap each
// provider, regardless of whether a second backend is configured: even a
// single wrapped provider benefits from tripping open after repeated
// failures instead of retrying a dead backend on every call turn.
var fallbackCfg = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	},
}

// buildProviders instantiates the configured backend for each pipeline
// stage via the registry, wraps each in a [resilience.FallbackGroup] of one
// so a persistently failing backend trips its circuit breaker rather than
// being retried on every turn, and returns them in an [app.Providers].
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = resilience.NewLLMFallback(p, name, fallbackCfg)
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = resilience.NewSTTFallback(p, name, fallbackCfg)
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = resilience.NewTTSFallback(p, name, fallbackCfg)
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	return ps, nil
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      callpipeline — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Printf("║  Scenario        : %-19s ║\n", shorten(cfg.Call.ScenarioPath, 19))
	sessionStore := "(disabled)"
	if cfg.Call.SessionStoreDSN != "" {
		sessionStore = "postgres"
	}
	fmt.Printf("║  Session store   : %-19s ║\n", sessionStore)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, shorten(value, 19))
}

func shorten(s string, max int) string {
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}

// ── Logger ───────────────────────────────────────────────────────────────────

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
