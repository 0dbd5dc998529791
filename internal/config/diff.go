package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true when any agent tuning value differs. The loop is
	// rebuilt for subsequent requests; runs in flight keep the old settings.
	AgentChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart (providers, tools, mcp, telemetry, listen_addr).
	RestartRequired []string
}

// HotReloadable reports whether every change in d can be applied live.
func (d ConfigDiff) HotReloadable() bool {
	return len(d.RestartRequired) == 0
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AgentChanged = old.Agent != new.Agent

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Tools, new.Tools) {
		d.RestartRequired = append(d.RestartRequired, "tools")
	}
	if !reflect.DeepEqual(old.MCP, new.MCP) {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
