// Package config provides the configuration schema, loader, and provider
// registry for the call pipeline.
package config

// Config is the root configuration structure for the call pipeline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Call      CallConfig      `yaml:"call"`
}

// ServerConfig holds network and logging settings for the call pipeline server.
type ServerConfig struct {
	// ListenAddr is the TCP address the WebSocket media-stream server listens
	// on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel controls slog verbosity. The zero value behaves as [LogInfo].
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the known log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CallConfig holds the timing constants and artifacts settings that govern a
// single scripted call.
type CallConfig struct {
	// SilenceThresholdMs is how long the agent-under-test must hold silence
	// after minimum speech before the turn detector considers its turn done.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MinSpeechMs is the minimum speech duration required before silence can
	// end a turn.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// TrialMessageDurationS is how long inbound audio is discarded at the
	// start of a call to skip carrier trial-account announcements.
	TrialMessageDurationS float64 `yaml:"trial_message_duration_s"`

	// MaxCallDurationS is the hard ceiling on call length.
	MaxCallDurationS float64 `yaml:"max_call_duration_s"`

	// SilenceWatchdogS is how long the patient waits with no agent turn
	// before re-prompting.
	SilenceWatchdogS float64 `yaml:"silence_watchdog_s"`

	// LLMTimeoutS bounds how long the response generator waits for the LLM
	// before falling back to a canned response.
	LLMTimeoutS float64 `yaml:"llm_timeout_s"`

	// TranscriptDir is the directory transcripts are written to.
	TranscriptDir string `yaml:"transcript_dir"`

	// ScenarioPath points at the YAML file describing the patient persona
	// and test objective for calls this process places.
	ScenarioPath string `yaml:"scenario_path"`

	// Voice selects the TTS voice used for the patient persona.
	Voice VoiceConfig `yaml:"voice"`

	// SessionStoreDSN is an optional PostgreSQL connection string. When set,
	// every call's transcript is additionally written turn-by-turn to a
	// durable, queryable session log alongside the flat-file transcript. A
	// session store failure never aborts a call; see internal/session.MemoryGuard.
	SessionStoreDSN string `yaml:"session_store_dsn"`
}

// VoiceConfig specifies the TTS voice parameters for the patient persona.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// PitchShift adjusts pitch in the range [-10, +10]. 0 means default.
	PitchShift float64 `yaml:"pitch_shift"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 1.0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// Defaults returns the frozen timing constants used when a YAML config omits
// the call block entirely.
func Defaults() CallConfig {
	return CallConfig{
		SilenceThresholdMs:    700,
		MinSpeechMs:           300,
		TrialMessageDurationS: 10.0,
		MaxCallDurationS:      180,
		SilenceWatchdogS:      15,
		LLMTimeoutS:           10,
		TranscriptDir:         "transcripts",
	}
}
