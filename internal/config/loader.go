package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
		if cfg.Server.ListenAddr == "" {
			errs = append(errs, errors.New("server.tls is set but server.listen_addr is empty"))
		}
	}

	// Device
	if cfg.Device.GatewayURL == "" {
		errs = append(errs, errors.New("device.gateway_url is required"))
	} else if u, err := url.Parse(cfg.Device.GatewayURL); err != nil {
		errs = append(errs, fmt.Errorf("device.gateway_url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("device.gateway_url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if cfg.Device.LevelFeedWindowMs < 0 {
		errs = append(errs, fmt.Errorf("device.level_feed_window_ms %d must not be negative", cfg.Device.LevelFeedWindowMs))
	}

	// Journal availability
	if cfg.Journal.PostgresDSN == "" {
		slog.Warn("journal.postgres_dsn is empty; switch events will only be kept in memory")
	}

	// Auto-switch defaults
	a := cfg.AutoSwitch
	if a.PollIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("auto_switch.poll_interval_ms %d must not be negative", a.PollIntervalMs))
	}
	if a.HoldMs < 0 {
		errs = append(errs, fmt.Errorf("auto_switch.hold_ms %d must not be negative", a.HoldMs))
	}
	if a.CooldownMs < 0 {
		errs = append(errs, fmt.Errorf("auto_switch.cooldown_ms %d must not be negative", a.CooldownMs))
	}
	if a.StaleAfterMs < 0 {
		errs = append(errs, fmt.Errorf("auto_switch.stale_after_ms %d must not be negative", a.StaleAfterMs))
	}
	if a.SilenceThreshold > 0 {
		errs = append(errs, fmt.Errorf("auto_switch.silence_threshold %.0f must not be positive; levels are hundredths of dB below full scale", a.SilenceThreshold))
	}
	if a.StickinessMargin < 0 {
		errs = append(errs, fmt.Errorf("auto_switch.stickiness_margin %.0f must not be negative", a.StickinessMargin))
	}
	if a.Smoothing < 0 || a.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("auto_switch.smoothing %.2f is out of range (0, 1]", a.Smoothing))
	}

	return errors.Join(errs...)
}
