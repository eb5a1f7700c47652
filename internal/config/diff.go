package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; transport and
// audio format changes require a restart and are reported as such.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionDefaultsChanged is true when the default language,
	// instructions, or fault tuning changed. Applies to the next session;
	// a running session keeps the values it started with.
	SessionDefaultsChanged bool

	// RestartRequired is true when transport or audio settings changed,
	// which cannot be applied to a running process.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionDefaultsChanged = true
	}

	if old.Transport != new.Transport || old.Audio != new.Audio {
		d.RestartRequired = true
	}

	return d
}
