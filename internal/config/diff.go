package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level is applied without a restart; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed, in
	// declaration order (e.g. "store", "validation").
	RestartRequired []string
}

// IsEmpty reports whether the two configs were equivalent.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"store", old.Store, new.Store},
		{"breakers", old.Breakers, new.Breakers},
		{"detector", old.Detector, new.Detector},
		{"snapshots", old.Snapshots, new.Snapshots},
		{"profile", old.Profile, new.Profile},
		{"analytics", old.Analytics, new.Analytics},
		{"retention", old.Retention, new.Retention},
		{"scheduler", old.Scheduler, new.Scheduler},
		{"validation", old.Validation, new.Validation},
		{"providers", old.Providers, new.Providers},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
