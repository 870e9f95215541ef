package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// Request is the inbound surface the authorization layer reads. It
// deliberately knows nothing about the HTTP framework in front of it: a
// header lookup, a query-parameter lookup, and the per-request ambient
// header mapping used to propagate credentials between internal calls.
type Request interface {
	Header(name string) string
	Query(name string) string
	AmbientHeader(name string) string
}

// UserStore is the account persistence contract the identity layer consumes.
// Lookups report absence through the boolean, never through an error.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (User, bool, error)
	FindByUsername(ctx context.Context, username string) (User, bool, error)
	Register(ctx context.Context, in RegisterUserInput) (User, error)
	Authenticate(ctx context.Context, username, password string) (User, bool, error)
	SetPassword(ctx context.Context, id int64, password string) error
	UpdateBalance(ctx context.Context, id int64, delta int64) error
	NicknamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error)
}

type RegisterUserInput struct {
	Username  string
	Nickname  string
	Password  string
	Enabled   *bool
	AvatarURL string
}

// TokenStore persists issued credentials. FindByAccessToken loads the token
// row joined with its user in a single query; a missing row (revoked token)
// is absence, not an error.
type TokenStore interface {
	FindByGrant(ctx context.Context, grantType GrantType, clientID, userID int64) (Token, bool, error)
	FindByAccessToken(ctx context.Context, accessToken string) (Token, *User, bool, error)
	Create(ctx context.Context, token Token) (Token, error)
	Revoke(ctx context.Context, accessToken string) (int64, error)
}

// TokenCodec signs and verifies the self-describing access-token payload.
// Verification must detect tampering without a storage round-trip; row
// existence is a second, independent check owned by the authorizer.
type TokenCodec interface {
	Sign(claims TokenClaims) (string, error)
	Verify(accessToken string) (TokenClaims, error)
}
