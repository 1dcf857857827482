package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — provider and
// store settings require a process restart to take effect; network- and
// credential-bearing settings are never hot-swapped, only cheap runtime
// toggles.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ToolsChanged     bool
	NewTools         ToolsConfig
	MemoryChanged    bool
	NewMemoryEnabled bool
	ShutdownChanged  bool
	NewShutdown      ShutdownConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !toolsConfigEqual(old.LLM.Tools, new.LLM.Tools) {
		d.ToolsChanged = true
		d.NewTools = new.LLM.Tools
	}

	if old.Memory.Enabled != new.Memory.Enabled {
		d.MemoryChanged = true
		d.NewMemoryEnabled = new.Memory.Enabled
	}

	if old.Shutdown != new.Shutdown {
		d.ShutdownChanged = true
		d.NewShutdown = new.Shutdown
	}

	return d
}

// toolsConfigEqual reports whether two ToolsConfig values are equivalent,
// including slice contents (ToolsConfig is not comparable with == because
// of its slice fields).
func toolsConfigEqual(a, b ToolsConfig) bool {
	if a.Mode != b.Mode || a.NativeEnabled != b.NativeEnabled {
		return false
	}
	if !slices.Equal(a.LocalEnabled, b.LocalEnabled) {
		return false
	}
	return slices.Equal(a.RemoteEnabled, b.RemoteEnabled)
}
