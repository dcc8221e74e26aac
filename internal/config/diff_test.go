package config_test

import (
	"testing"

	"github.com/voxbench/callpipeline/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Call: config.CallConfig{
			Voice: config.VoiceConfig{VoiceID: "jenny", SpeedFactor: 1.0},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VoiceChanged {
		t.Error("expected VoiceChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_VoiceIDChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Call: config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v1"}}}
	new := &config.Config{Call: config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v2"}}}

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
	if d.NewVoice.VoiceID != "v2" {
		t.Errorf("expected NewVoice.VoiceID=v2, got %q", d.NewVoice.VoiceID)
	}
}

func TestDiff_SpeedFactorChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Call: config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v1", SpeedFactor: 1.0}}}
	new := &config.Config{Call: config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v1", SpeedFactor: 1.2}}}

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true for speed_factor change")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Call:   config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v1"}},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogWarn},
		Call:   config.CallConfig{Voice: config.VoiceConfig{VoiceID: "v2"}},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
}
