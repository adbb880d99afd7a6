package config

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes (log level, pipeline tuning, network probing) are tracked
// individually; everything else only sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged means tuning values changed; new sessions pick them up,
	// running sessions keep the values they started with.
	PipelineChanged bool

	// NetworkChanged means the probe settings changed.
	NetworkChanged bool

	// RestartRequired means a change cannot be applied to the running server
	// (listen address, TLS, service endpoints, credentials).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}
	if old.Network != new.Network {
		d.NetworkChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Generation != new.Generation ||
		old.Transcription != new.Transcription ||
		old.Fallback != new.Fallback ||
		old.Feedback != new.Feedback {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
