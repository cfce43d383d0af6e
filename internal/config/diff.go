package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecognizerChanged is true when any recognizer tuning changed. Live
	// sessions must be rebuilt to pick it up.
	RecognizerChanged bool

	// CatalogueChanged is true when the catalogue path, default archetype,
	// lint threshold or file content changed.
	CatalogueChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// process restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RecognizerChanged && !d.CatalogueChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recognizer != new.Recognizer {
		d.RecognizerChanged = true
	}
	if old.Catalogue != new.Catalogue {
		d.CatalogueChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
