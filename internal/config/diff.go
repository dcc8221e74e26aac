package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     VoiceConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart — provider
// selection and timing constants require a fresh call and are not diffed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Call.Voice != new.Call.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Call.Voice
	}

	return d
}
