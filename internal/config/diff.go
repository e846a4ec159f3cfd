package config

import "time"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// fields are reported individually; anything else lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DiagnosticChanged bool
	NewDiagnostic     bool

	SpamChanged   bool
	NewSpamLimit  int
	NewSpamWindow time.Duration

	LineDelayChanged bool
	NewLineDelay     time.Duration

	// RestartRequired names the changed settings that only take effect
	// after a restart, e.g. "store.driver".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DiagnosticChanged || d.SpamChanged || d.LineDelayChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.Diagnostic != new.Server.Diagnostic {
		d.DiagnosticChanged = true
		d.NewDiagnostic = new.Server.Diagnostic
	}
	if old.Bot.SpamLimit != new.Bot.SpamLimit || old.Bot.SpamWindow != new.Bot.SpamWindow {
		d.SpamChanged = true
		d.NewSpamLimit = new.Bot.SpamLimit
		d.NewSpamWindow = new.Bot.SpamWindow
	}
	if old.Bot.LineDelay != new.Bot.LineDelay {
		d.LineDelayChanged = true
		d.NewLineDelay = new.Bot.LineDelay
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !sameTLS(old.Server.TLS, new.Server.TLS))
	restart("bot.nick", old.Bot.Nick != new.Bot.Nick)
	restart("bot.default_channel", old.Bot.DefaultChannel != new.Bot.DefaultChannel)
	restart("bot.hook_timeout", old.Bot.HookTimeout != new.Bot.HookTimeout)
	restart("store", old.Store != new.Store)
	restart("discord", old.Discord != new.Discord)
	restart("wsline", old.WSLine != new.WSLine)
	restart("reference.data_path", old.Reference != new.Reference)

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
