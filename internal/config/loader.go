package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

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
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Storage availability
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; running on the in-memory store, lesson data will not survive restarts")
	}

	// Voice pipeline tuning. Zero means "use the default", so only
	// explicit out-of-range values are rejected.
	v := cfg.Voice
	if v.ConfidenceThreshold < 0 || v.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice.confidence_threshold %.2f is out of range (0, 1]", v.ConfidenceThreshold))
	}
	if v.FuzzyThreshold < 0 || v.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("voice.fuzzy_threshold %.2f is out of range (0, 1]", v.FuzzyThreshold))
	}
	if v.AmbiguityMargin < 0 || v.AmbiguityMargin > 0.5 {
		errs = append(errs, fmt.Errorf("voice.ambiguity_margin %.2f is out of range [0, 0.5]", v.AmbiguityMargin))
	}
	if v.PendingTTL != "" {
		d, err := time.ParseDuration(v.PendingTTL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("voice.pending_ttl %q is not a valid duration: %w", v.PendingTTL, err))
		case d < 0:
			errs = append(errs, fmt.Errorf("voice.pending_ttl %q must not be negative", v.PendingTTL))
		}
	}
	if v.ConfidenceThreshold != 0 && v.FuzzyThreshold != 0 && v.FuzzyThreshold > v.ConfidenceThreshold {
		slog.Warn("voice.fuzzy_threshold exceeds voice.confidence_threshold; every fuzzy match will require confirmation",
			"fuzzy_threshold", v.FuzzyThreshold,
			"confidence_threshold", v.ConfidenceThreshold,
		)
	}

	return errors.Join(errs...)
}
