package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, credentials, provider selection) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when any per-call timing knob changed. New
	// values apply to calls accepted after the reload; in-flight calls keep
	// their timings.
	SessionChanged bool

	// OwnerPhoneChanged is true when the fallback owner number changed.
	OwnerPhoneChanged bool
	NewOwnerPhone     string
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || d.OwnerPhoneChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionChanged = true
	}

	if old.Notify.OwnerPhone != new.Notify.OwnerPhone {
		d.OwnerPhoneChanged = true
		d.NewOwnerPhone = new.Notify.OwnerPhone
	}

	return d
}
