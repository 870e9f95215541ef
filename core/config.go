package core

import (
	"fmt"
	"strings"
	"time"
)

// PersistenceConfig satisfies the configuration contract of the persistence
// client (driver, DSN, debug, ping timeout, otel identifier getters).
type PersistenceConfig struct {
	Driver         string        `koanf:"driver" mapstructure:"driver"`
	Server         string        `koanf:"server" mapstructure:"server"`
	Debug          bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	OtelIdentifier string        `koanf:"otel_identifier" mapstructure:"otel_identifier"`
}

func (c PersistenceConfig) GetDriver() string {
	return c.Driver
}

func (c PersistenceConfig) GetServer() string {
	return c.Server
}

func (c PersistenceConfig) GetDebug() bool {
	return c.Debug
}

func (c PersistenceConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return time.Second
	}
	return c.PingTimeout
}

func (c PersistenceConfig) GetOtelIdentifier() string {
	return c.OtelIdentifier
}

// AuthConfig carries the token-signing material. Secret and TokenSalt bind
// the signature to this deployment; TokenTTL of zero issues tokens that
// never expire.
type AuthConfig struct {
	Secret             string `koanf:"secret" mapstructure:"secret"`
	TokenSalt          string `koanf:"token_salt" mapstructure:"token_salt"`
	TokenTTL           int64  `koanf:"token_ttl" mapstructure:"token_ttl"`
	RefreshTokenLength int    `koanf:"refresh_token_length" mapstructure:"refresh_token_length"`
}

type Config struct {
	ServiceName string            `koanf:"service_name" mapstructure:"service_name"`
	Persistence PersistenceConfig `koanf:"persistence" mapstructure:"persistence"`
	Auth        AuthConfig        `koanf:"auth" mapstructure:"auth"`
}

const (
	defaultServiceName        = "datastore"
	defaultRefreshTokenLength = 40
)

func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
		Persistence: PersistenceConfig{
			Driver:      "postgres",
			PingTimeout: time.Second,
		},
		Auth: AuthConfig{
			RefreshTokenLength: defaultRefreshTokenLength,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("core: auth.secret is required")
	}
	if strings.TrimSpace(c.Auth.TokenSalt) == "" {
		return fmt.Errorf("core: auth.token_salt is required")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("core: auth.token_ttl must not be negative")
	}
	if c.Auth.RefreshTokenLength <= 0 {
		return fmt.Errorf("core: auth.refresh_token_length must be positive")
	}
	return nil
}
