package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; device and server
// addresses require a restart and are deliberately excluded.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	AutoSwitchChanged bool
	NewAutoSwitch     AutoSwitchConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.AutoSwitch != new.AutoSwitch {
		d.AutoSwitchChanged = true
		d.NewAutoSwitch = new.AutoSwitch
	}

	return d
}
