package core

import (
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Auth.Secret = "server-secret"
	cfg.Auth.TokenSalt = "token-salt"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	missingSecret := validConfig()
	missingSecret.Auth.Secret = " "
	if err := missingSecret.Validate(); err == nil {
		t.Fatalf("expected missing secret to fail validation")
	}

	missingSalt := validConfig()
	missingSalt.Auth.TokenSalt = ""
	if err := missingSalt.Validate(); err == nil {
		t.Fatalf("expected missing salt to fail validation")
	}

	negativeTTL := validConfig()
	negativeTTL.Auth.TokenTTL = -1
	if err := negativeTTL.Validate(); err == nil {
		t.Fatalf("expected negative ttl to fail validation")
	}
}

func TestPersistenceConfigDefaults(t *testing.T) {
	cfg := PersistenceConfig{}
	if cfg.GetPingTimeout() != time.Second {
		t.Fatalf("expected ping timeout fallback of 1s, got %v", cfg.GetPingTimeout())
	}

	cfg.PingTimeout = 5 * time.Second
	if cfg.GetPingTimeout() != 5*time.Second {
		t.Fatalf("expected configured ping timeout, got %v", cfg.GetPingTimeout())
	}
}

func TestGoOptionsResolverPrecedence(t *testing.T) {
	defaults := validConfig()
	loaded := Config{Persistence: PersistenceConfig{Driver: "sqlite3", Server: "file:db?mode=memory"}}
	runtime := Config{Auth: AuthConfig{TokenTTL: 3600}}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if resolved.Persistence.Driver != "sqlite3" {
		t.Fatalf("expected loaded driver to win over defaults, got %q", resolved.Persistence.Driver)
	}
	if resolved.Auth.TokenTTL != 3600 {
		t.Fatalf("expected runtime ttl to win, got %d", resolved.Auth.TokenTTL)
	}
	if resolved.Auth.Secret != "server-secret" {
		t.Fatalf("expected default secret to survive, got %q", resolved.Auth.Secret)
	}
}
