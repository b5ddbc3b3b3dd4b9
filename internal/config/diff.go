package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running server; every other change is collected into
// RestartReasons so the operator can be told a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true when a change affects the listener, providers,
	// the attempt store, the catalog, or assessment tuning.
	RestartRequired bool

	// RestartReasons names the changed config sections that need a restart.
	RestartReasons []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = true
			d.RestartReasons = append(d.RestartReasons, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("store", old.Store != new.Store)
	restart("catalog", old.Catalog != new.Catalog)
	restart("assess", old.Assess != new.Assess)

	return d
}
