package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram", "whisper", "whisper-native"},
	"tts": {"elevenlabs", "coqui"},
	"vad": {"energy", "silero"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{Call: Defaults()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyCallDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyCallDefaults fills in zero-valued call timing fields with the frozen
// defaults, so a config that only overrides one constant doesn't have to
// restate the rest.
func applyCallDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Call.SilenceThresholdMs == 0 {
		cfg.Call.SilenceThresholdMs = d.SilenceThresholdMs
	}
	if cfg.Call.MinSpeechMs == 0 {
		cfg.Call.MinSpeechMs = d.MinSpeechMs
	}
	if cfg.Call.TrialMessageDurationS == 0 {
		cfg.Call.TrialMessageDurationS = d.TrialMessageDurationS
	}
	if cfg.Call.MaxCallDurationS == 0 {
		cfg.Call.MaxCallDurationS = d.MaxCallDurationS
	}
	if cfg.Call.SilenceWatchdogS == 0 {
		cfg.Call.SilenceWatchdogS = d.SilenceWatchdogS
	}
	if cfg.Call.LLMTimeoutS == 0 {
		cfg.Call.LLMTimeoutS = d.LLMTimeoutS
	}
	if cfg.Call.TranscriptDir == "" {
		cfg.Call.TranscriptDir = d.TranscriptDir
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; the patient persona will not be able to generate responses")
	}

	if cfg.Call.SilenceThresholdMs <= 0 {
		errs = append(errs, fmt.Errorf("call.silence_threshold_ms must be positive"))
	}
	if cfg.Call.MinSpeechMs <= 0 {
		errs = append(errs, fmt.Errorf("call.min_speech_ms must be positive"))
	}
	if cfg.Call.MaxCallDurationS <= 0 {
		errs = append(errs, fmt.Errorf("call.max_call_duration_s must be positive"))
	}
	if cfg.Call.Voice.SpeedFactor != 0 {
		if cfg.Call.Voice.SpeedFactor < 0.5 || cfg.Call.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("call.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Call.Voice.SpeedFactor))
		}
	}
	if cfg.Call.Voice.PitchShift < -10 || cfg.Call.Voice.PitchShift > 10 {
		errs = append(errs, fmt.Errorf("call.voice.pitch_shift %.2f is out of range [-10, 10]", cfg.Call.Voice.PitchShift))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
