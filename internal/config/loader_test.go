package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/lessonbook/lessonbook/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
postgres:
  dsn: "postgres://localhost/lessonbook"
voice:
  confidence_threshold: 0.75
  fuzzy_threshold: 0.6
  ambiguity_margin: 0.1
  pending_ttl: 5m
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Voice.ConfidenceThreshold != 0.75 {
		t.Errorf("confidence_threshold: got %v, want 0.75", cfg.Voice.ConfidenceThreshold)
	}
	if got := cfg.Voice.PendingTTLDuration(); got != 5*time.Minute {
		t.Errorf("pending_ttl: got %v, want 5m", got)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_address: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_VoiceThresholdsOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  confidence_threshold: 1.5
  ambiguity_margin: 0.9
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors for out-of-range voice tuning, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "confidence_threshold") {
		t.Errorf("error should mention confidence_threshold, got: %v", err)
	}
	if !strings.Contains(errStr, "ambiguity_margin") {
		t.Errorf("error should mention ambiguity_margin, got: %v", err)
	}
}

func TestValidate_PendingTTLNotADuration(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  pending_ttl: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unparseable pending_ttl, got nil")
	}
	if !strings.Contains(err.Error(), "pending_ttl") {
		t.Errorf("error should mention pending_ttl, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothPaths(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/lessonbook/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS without key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_ZeroValuesUseDefaults(t *testing.T) {
	t.Parallel()
	// An empty config is valid; zero-valued voice tuning means defaults.
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Voice.ConfidenceThreshold != 0 {
		t.Errorf("confidence_threshold: got %v, want 0", cfg.Voice.ConfidenceThreshold)
	}
}

func TestLogLevelSlog(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level config.LogLevel
		want  string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tc := range cases {
		if got := tc.level.Slog().String(); got != tc.want {
			t.Errorf("Slog(%q) = %q, want %q", tc.level, got, tc.want)
		}
	}
}
