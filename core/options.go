package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// ConfigProvider loads configuration over a set of defaults.
type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// RawConfigLoader produces the raw key/value tree a provider builds from.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// CfgxConfigProvider builds a validated Config from a raw loader.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func (p CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p.Loader == nil {
		return defaults, nil
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OptionsResolver merges defaults, loaded configuration and runtime
// overrides into a final Config.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// GoOptionsResolver layers the three sources with increasing precedence:
// defaults, loaded configuration, runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	persistence := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Persistence.Driver) != "" {
		persistence["driver"] = cfg.Persistence.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Persistence.Server) != "" {
		persistence["server"] = cfg.Persistence.Server
	}
	if includeZero || cfg.Persistence.Debug {
		persistence["debug"] = cfg.Persistence.Debug
	}
	if includeZero || cfg.Persistence.PingTimeout > 0 {
		persistence["ping_timeout"] = cfg.Persistence.PingTimeout
	}
	if includeZero || strings.TrimSpace(cfg.Persistence.OtelIdentifier) != "" {
		persistence["otel_identifier"] = cfg.Persistence.OtelIdentifier
	}
	if len(persistence) > 0 {
		layer["persistence"] = persistence
	}

	auth := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Auth.Secret) != "" {
		auth["secret"] = cfg.Auth.Secret
	}
	if includeZero || strings.TrimSpace(cfg.Auth.TokenSalt) != "" {
		auth["token_salt"] = cfg.Auth.TokenSalt
	}
	if includeZero || cfg.Auth.TokenTTL != 0 {
		auth["token_ttl"] = cfg.Auth.TokenTTL
	}
	if includeZero || cfg.Auth.RefreshTokenLength != 0 {
		auth["refresh_token_length"] = cfg.Auth.RefreshTokenLength
	}
	if len(auth) > 0 {
		layer["auth"] = auth
	}

	return layer
}
