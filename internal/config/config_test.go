package config

import "testing"

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.MaxSessions != DefaultMaxSessions {
		t.Fatalf("maxSessions=%d, want %d", cfg.MaxSessions, DefaultMaxSessions)
	}
	if cfg.MaxConnectionsPerUser != DefaultMaxConnsPerUser {
		t.Fatalf("maxConnectionsPerUser=%d, want %d", cfg.MaxConnectionsPerUser, DefaultMaxConnsPerUser)
	}
	if cfg.SessionTimeout != DefaultSessionTimeout {
		t.Fatalf("sessionTimeout=%v, want %v", cfg.SessionTimeout, DefaultSessionTimeout)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestEnvOverridesDomainTunables(t *testing.T) {
	env := map[string]string{
		EnvMaxSessions:           "10",
		EnvSessionTimeoutMinutes: "5",
		EnvMaxMessageLength:      "100",
		EnvMaxConnsPerUser:       "2",
	}
	cfg, err := load(func(k string) (string, bool) { v, ok := env[k]; return v, ok }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSessions != 10 {
		t.Fatalf("maxSessions=%d, want 10", cfg.MaxSessions)
	}
	if cfg.MaxMessageLength != 100 {
		t.Fatalf("maxMessageLength=%d, want 100", cfg.MaxMessageLength)
	}
	if cfg.MaxConnectionsPerUser != 2 {
		t.Fatalf("maxConnectionsPerUser=%d, want 2", cfg.MaxConnectionsPerUser)
	}
}

func TestAllowedOriginsWildcard(t *testing.T) {
	env := map[string]string{EnvAllowedOrigins: "*"}
	cfg, err := load(func(k string) (string, bool) { v, ok := env[k]; return v, ok }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("allowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
}

func TestInvalidAllowedOriginRejected(t *testing.T) {
	env := map[string]string{EnvAllowedOrigins: "not-a-url"}
	if _, err := load(func(k string) (string, bool) { v, ok := env[k]; return v, ok }, nil); err == nil {
		t.Fatalf("expected error for invalid allowed origin")
	}
}
