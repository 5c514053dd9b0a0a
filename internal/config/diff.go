package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; a Postgres DSN
// change is reported but requires a restart to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     VoiceConfig

	// PostgresChanged reports a DSN edit. The store connection is not
	// rebuilt on reload, so this only drives a warning log.
	PostgresChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Voice
	}

	if old.Postgres.DSN != new.Postgres.DSN {
		d.PostgresChanged = true
	}

	return d
}
