// Package datastore is the data-access and identity layer behind the draw
// and balance services: a generic persistence gateway with declarative
// filtering, pagination and serialization, plus token issuance and request
// authorization on top of it.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/drawbook/go-datastore/auth"
	"github.com/drawbook/go-datastore/core"
	"github.com/drawbook/go-datastore/query"
	sqlstore "github.com/drawbook/go-datastore/store/sql"
)

// Re-exported domain surface so most callers only import this package.
type (
	Config               = core.Config
	User                 = core.User
	Token                = core.Token
	TokenGrant           = core.TokenGrant
	TokenClaims          = core.TokenClaims
	AuthorizationContext = core.AuthorizationContext
	GrantType            = core.GrantType
	Filter               = query.Filter
	Paging               = query.Paging
	Window               = query.Window
)

const GrantTypePassword = core.GrantTypePassword

// Service wires the persistence client, the typed stores, the token issuer
// and the authorizer over one configuration.
type Service struct {
	config     core.Config
	client     *persistence.Client
	factory    *sqlstore.RepositoryFactory
	signer     *auth.Signer
	issuer     *auth.Issuer
	authorizer *auth.Authorizer
	logger     core.Logger
}

type Option func(*settings)

type settings struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	clock          func() int64
}

func WithLogger(logger core.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(s *settings) {
		if provider != nil {
			s.loggerProvider = provider
		}
	}
}

// WithClock overrides the issue-time and expiry clock, unix seconds.
func WithClock(clock func() int64) Option {
	return func(s *settings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New builds a service over an open database handle. The dialect follows
// the configured driver; migrations are registered separately by the caller
// before Migrate runs.
func New(cfg Config, sqlDB *sql.DB, options ...Option) (*Service, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("datastore: sql db is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialect, err := dialectFor(cfg.Persistence.GetDriver())
	if err != nil {
		return nil, err
	}
	client, err := persistence.New(cfg.Persistence, sqlDB, dialect)
	if err != nil {
		return nil, fmt.Errorf("datastore: new persistence client: %w", err)
	}
	return NewWithClient(cfg, client, options...)
}

// NewWithClient builds a service over an already-configured persistence
// client.
func NewWithClient(cfg Config, client *persistence.Client, options ...Option) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("datastore: persistence client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	applied := settings{clock: core.Now}
	for _, option := range options {
		if option != nil {
			option(&applied)
		}
	}
	_, logger := glog.Resolve(cfg.ServiceName, applied.loggerProvider, applied.logger)
	logger = glog.Ensure(logger)

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenSalt)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer(factory.TokenStore(), signer,
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithRefreshTokenLength(cfg.Auth.RefreshTokenLength),
		auth.WithClock(applied.clock),
		auth.WithIssuerLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	authorizer, err := auth.NewAuthorizer(factory.TokenStore(), signer,
		auth.WithAuthorizerClock(applied.clock),
		auth.WithAuthorizerLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		client:     client,
		factory:    factory,
		signer:     signer,
		issuer:     issuer,
		authorizer: authorizer,
		logger:     logger,
	}, nil
}

// ResolveConfig merges defaults, provider-loaded configuration and runtime
// overrides, with runtime taking precedence.
func ResolveConfig(ctx context.Context, provider core.ConfigProvider, runtime Config) (Config, error) {
	defaults := core.DefaultConfig()
	loaded := defaults
	if provider != nil {
		var err error
		loaded, err = provider.Load(ctx, defaults)
		if err != nil {
			return Config{}, err
		}
	}
	return core.GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Client() *persistence.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func (s *Service) DB() *bun.DB {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.DB()
}

func (s *Service) Users() *sqlstore.UserStore {
	if s == nil {
		return nil
	}
	return s.factory.UserStore()
}

func (s *Service) Tokens() *sqlstore.TokenStore {
	if s == nil {
		return nil
	}
	return s.factory.TokenStore()
}

func (s *Service) Signer() *auth.Signer {
	if s == nil {
		return nil
	}
	return s.signer
}

func (s *Service) Issuer() *auth.Issuer {
	if s == nil {
		return nil
	}
	return s.issuer
}

func (s *Service) Authorizer() *auth.Authorizer {
	if s == nil {
		return nil
	}
	return s.authorizer
}

func (s *Service) Logger() core.Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

// RegisterSQLMigrations forwards a migration filesystem to the persistence
// client.
func (s *Service) RegisterSQLMigrations(fsys fs.FS) {
	if s == nil || s.client == nil || fsys == nil {
		return
	}
	s.client.RegisterSQLMigrations(fsys)
}

func (s *Service) Migrate(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("datastore: persistence client is required")
	}
	return s.client.Migrate(ctx)
}

func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pg", "postgresql":
		return pgdialect.New(), nil
	case "sqlite", "sqlite3":
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("datastore: unsupported driver %q", driver)
	}
}
