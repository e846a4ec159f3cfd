package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VELLUM_BOT_NICK.
const EnvPrefix = "VELLUM_"

// Load reads the YAML configuration file at path, applies environment
// overrides from the process environment and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, nil)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse decodes data and overlays environ. A nil environ means the process
// environment.
func parse(data []byte, environ map[string]string) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, environ); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with VELLUM_* variables from environ, or from the
// process environment when environ is nil. Unset variables leave the field
// alone.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if strings.ContainsAny(cfg.Bot.Nick, " \t:") {
		errs = append(errs, fmt.Errorf("bot.nick %q must be a single word without ':'", cfg.Bot.Nick))
	}
	if cfg.Bot.SpamWindow < 0 {
		errs = append(errs, fmt.Errorf("bot.spam_window %s must not be negative", cfg.Bot.SpamWindow))
	}
	if cfg.Bot.LineDelay < 0 {
		errs = append(errs, fmt.Errorf("bot.line_delay %s must not be negative", cfg.Bot.LineDelay))
	}
	if cfg.Bot.HookTimeout < 0 {
		errs = append(errs, fmt.Errorf("bot.hook_timeout %s must not be negative", cfg.Bot.HookTimeout))
	}

	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StoreSQLite || cfg.Store.Driver == StorePostgres) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required when driver is %s", cfg.Store.Driver))
	}

	if cfg.Discord.GMRoleID != "" && !cfg.Discord.Enabled() {
		errs = append(errs, errors.New("discord.gm_role_id is set but discord.token is empty"))
	}
	if cfg.WSLine.Enabled && !strings.HasPrefix(cfg.WSLine.Path, "/") {
		errs = append(errs, fmt.Errorf("wsline.path %q must start with '/'", cfg.WSLine.Path))
	}

	return errors.Join(errs...)
}
