package auth

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/drawbook/go-datastore/core"
)

const (
	HeaderAuthorization = "Authorization"
	QueryAccessToken    = "access_token"
	bearerScheme        = "Bearer"
)

// Authorizer turns an inbound request into an authorization context. Every
// failure path degrades to an invalid context; nothing escapes as an error,
// partial or malformed credentials must never crash request handling.
type Authorizer struct {
	store  core.TokenStore
	codec  core.TokenCodec
	logger core.Logger
	now    func() int64
}

type AuthorizerOption func(*Authorizer)

func WithAuthorizerLogger(logger core.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithAuthorizerClock(now func() int64) AuthorizerOption {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthorizer(store core.TokenStore, codec core.TokenCodec, opts ...AuthorizerOption) (*Authorizer, error) {
	if store == nil {
		return nil, fmt.Errorf("auth: token store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("auth: token codec is required")
	}
	authorizer := &Authorizer{
		store:  store,
		codec:  codec,
		logger: glog.Nop(),
		now:    core.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(authorizer)
		}
	}
	return authorizer, nil
}

// Resolve runs the single-pass credential check: locate a candidate token,
// verify its signature, check expiry, then require the persisted row joined
// with its user. Signature validity alone is not enough; a missing row means
// the token was revoked.
func (a *Authorizer) Resolve(ctx context.Context, req core.Request) core.AuthorizationContext {
	invalid := core.AuthorizationContext{}
	if a == nil || req == nil {
		return invalid
	}

	raw, ok := candidateToken(req)
	if !ok {
		return invalid
	}

	claims, err := a.codec.Verify(raw)
	if err != nil {
		a.logger.Debug("access token rejected", "reason", err.Error())
		return invalid
	}
	if claims.ExpiredAt(a.now()) {
		a.logger.Debug("access token expired",
			"client_id", claims.ClientID,
			"user_id", claims.UserID,
		)
		return invalid
	}

	_, user, found, err := a.store.FindByAccessToken(ctx, raw)
	if err != nil {
		a.logger.Error("token lookup failed", "error", err.Error())
		return invalid
	}
	if !found || user == nil {
		return invalid
	}

	return core.AuthorizationContext{
		IsValid: true,
		Claims:  claims,
		User:    user,
	}
}

// RequireAuthorization is the route-guard helper: an invalid context becomes
// an unauthorized error.
func RequireAuthorization(actx core.AuthorizationContext) error {
	if !actx.IsValid {
		return core.NewUnauthorized()
	}
	return nil
}

// candidateToken picks the first credential source that yields a token: the
// Authorization header, then the access_token query parameter, then the
// ambient header propagated by internal calls. The header forms must carry
// the Bearer scheme; the query parameter is the bare token.
func candidateToken(req core.Request) (string, bool) {
	if header := strings.TrimSpace(req.Header(HeaderAuthorization)); header != "" {
		return parseBearer(header)
	}
	if token := strings.TrimSpace(req.Query(QueryAccessToken)); token != "" {
		return token, true
	}
	if ambient := strings.TrimSpace(req.AmbientHeader(HeaderAuthorization)); ambient != "" {
		return parseBearer(ambient)
	}
	return "", false
}

func parseBearer(value string) (string, bool) {
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], bearerScheme) {
		return "", false
	}
	return parts[1], true
}
