package auth

import (
	"context"
	"crypto/rand"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/drawbook/go-datastore/core"
)

// DefaultRefreshTokenLength matches the legacy refresh token shape.
const DefaultRefreshTokenLength = 40

const refreshTokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Issuer creates token grants. Issuance is idempotent per (grant_type,
// client_id, user_id): a live row is returned unchanged, and a concurrent
// create losing the storage uniqueness race surfaces as issued-too-often so
// the caller re-reads instead of retrying the write.
type Issuer struct {
	store         core.TokenStore
	codec         core.TokenCodec
	logger        core.Logger
	now           func() int64
	ttl           int64
	refreshLength int
}

type IssuerOption func(*Issuer)

func WithIssuerLogger(logger core.Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithClock overrides the issue-time source.
func WithClock(now func() int64) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithTokenTTL sets expires_in for new tokens. Zero means never expires.
func WithTokenTTL(seconds int64) IssuerOption {
	return func(i *Issuer) {
		if seconds >= 0 {
			i.ttl = seconds
		}
	}
}

func WithRefreshTokenLength(length int) IssuerOption {
	return func(i *Issuer) {
		if length > 0 {
			i.refreshLength = length
		}
	}
}

func NewIssuer(store core.TokenStore, codec core.TokenCodec, opts ...IssuerOption) (*Issuer, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: token store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("auth: token codec is required")
	}
	issuer := &Issuer{
		store:         store,
		codec:         codec,
		logger:        glog.Nop(),
		now:           core.Now,
		refreshLength: DefaultRefreshTokenLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

func (i *Issuer) Issue(ctx context.Context, grantType core.GrantType, clientID, userID int64) (core.TokenGrant, error) {
	if err := grantType.Validate(); err != nil {
		return core.TokenGrant{}, core.NewBadInput(err.Error())
	}

	existing, found, err := i.store.FindByGrant(ctx, grantType, clientID, userID)
	if err != nil {
		return core.TokenGrant{}, err
	}
	if found {
		return existing.Grant(), nil
	}

	claims := core.TokenClaims{
		GrantType: grantType,
		ClientID:  clientID,
		UserID:    userID,
		IssuedAt:  i.now(),
		ExpiresIn: i.ttl,
	}
	accessToken, err := i.codec.Sign(claims)
	if err != nil {
		return core.TokenGrant{}, err
	}
	refreshToken, err := randomToken(i.refreshLength)
	if err != nil {
		return core.TokenGrant{}, err
	}

	created, err := i.store.Create(ctx, core.Token{
		GrantType:    grantType,
		AccessToken:  accessToken,
		ExpiresIn:    claims.ExpiresIn,
		RefreshToken: refreshToken,
		ClientID:     clientID,
		UserID:       userID,
		IssuedAt:     claims.IssuedAt,
	})
	if err != nil {
		if core.IsDuplicateKey(err) {
			i.logger.Debug("token issuance lost uniqueness race",
				"grant_type", grantType.String(),
				"client_id", clientID,
				"user_id", userID,
			)
			return core.TokenGrant{}, core.NewTokenIssuedTooOften(err)
		}
		return core.TokenGrant{}, err
	}
	return created.Grant(), nil
}

// Revoke drops every row for the access token and reports how many went.
func (i *Issuer) Revoke(ctx context.Context, accessToken string) (int64, error) {
	return i.store.Revoke(ctx, accessToken)
}

func randomToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = refreshTokenAlphabet[int(b)%len(refreshTokenAlphabet)]
	}
	return string(out), nil
}
