package core

import (
	"fmt"
	"strings"
	"time"
)

// GrantType categorizes credential issuance. Otherwise-identical token rows
// for the same client/user pair are distinguished by it.
type GrantType string

const (
	GrantTypePassword GrantType = "PASSWORD"
)

func (g GrantType) String() string {
	return string(g)
}

func (g GrantType) Validate() error {
	switch g {
	case GrantTypePassword:
		return nil
	}
	return fmt.Errorf("core: unknown grant type %q", string(g))
}

func ParseGrantType(value string) (GrantType, error) {
	grant := GrantType(strings.ToUpper(strings.TrimSpace(value)))
	if err := grant.Validate(); err != nil {
		return "", err
	}
	return grant, nil
}

// User is the persisted account entity. Password holds the bcrypt hash and is
// excluded from serialized output unless a caller explicitly overrides the
// redaction.
type User struct {
	ID        int64
	Username  string
	Nickname  string
	Password  string
	Enabled   bool
	Balance   int64
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Token is one issued credential. At most one live row exists per
// (grant_type, client_id, user_id); storage enforces the uniqueness.
type Token struct {
	ID           int64
	GrantType    GrantType
	AccessToken  string
	ExpiresIn    int64
	RefreshToken string
	ClientID     int64
	UserID       int64
	IssuedAt     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const TokenTypeBearer = "Bearer"

// Grant reduces a token row to the outbound token response shape.
func (t Token) Grant() TokenGrant {
	return TokenGrant{
		AccessToken:  t.AccessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    t.ExpiresIn,
		RefreshToken: t.RefreshToken,
	}
}

// TokenGrant is the wire shape returned from token issuance.
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// TokenClaims is the signed, self-describing payload carried inside an access
// token. IssuedAt is unix seconds; ExpiresIn of zero means the token never
// expires.
type TokenClaims struct {
	GrantType GrantType
	ClientID  int64
	UserID    int64
	IssuedAt  int64
	ExpiresIn int64
}

func (c TokenClaims) NeverExpires() bool {
	return c.ExpiresIn == 0
}

// ExpiredAt reports whether the claims are expired at the given unix time.
func (c TokenClaims) ExpiredAt(now int64) bool {
	if c.NeverExpires() {
		return false
	}
	return c.IssuedAt+c.ExpiresIn <= now
}

// AuthorizationContext is the request-scoped outcome of authorization. It is
// created fresh per request and must never be shared across requests.
type AuthorizationContext struct {
	IsValid bool
	Claims  TokenClaims
	User    *User
}

// Now returns the current unix time in seconds.
func Now() int64 {
	return time.Now().Unix()
}

// DateID collapses a unix timestamp to a YYYYMMDD integer, the key shape
// draw-indexed consumers use for daily buckets.
func DateID(unixSeconds int64) int {
	t := time.Unix(unixSeconds, 0)
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
