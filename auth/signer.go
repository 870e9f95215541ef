// Package auth issues and verifies the self-describing access tokens and
// resolves inbound credentials into a request-scoped authorization context.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/drawbook/go-datastore/core"
)

// Signer signs token claims with HS256 under a key derived from the server
// secret and a fixed salt, so a leaked signed token alone never exposes the
// secret. Verification needs no storage round-trip.
type Signer struct {
	key []byte
}

func NewSigner(secret, salt string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("auth: signing secret is required")
	}
	if strings.TrimSpace(salt) == "" {
		return nil, fmt.Errorf("auth: signing salt is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(salt))
	return &Signer{key: mac.Sum(nil)}, nil
}

type accessTokenClaims struct {
	GrantType string `json:"grant_type"`
	ClientID  int64  `json:"client_id"`
	UserID    int64  `json:"user_id"`
	IssueTime int64  `json:"issue_time"`
	ExpiresIn int64  `json:"expires_in"`

	// Expiry is enforced by the authorizer from issue_time and expires_in
	// so a zero expires_in can mean "never expires"; the registered claim
	// set stays empty.
	jwt.RegisteredClaims
}

func (s *Signer) Sign(claims core.TokenClaims) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", fmt.Errorf("auth: signer is not configured")
	}
	if err := claims.GrantType.Validate(); err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessTokenClaims{
		GrantType: claims.GrantType.String(),
		ClientID:  claims.ClientID,
		UserID:    claims.UserID,
		IssueTime: claims.IssuedAt,
		ExpiresIn: claims.ExpiresIn,
	})
	return token.SignedString(s.key)
}

func (s *Signer) Verify(accessToken string) (core.TokenClaims, error) {
	if s == nil || len(s.key) == 0 {
		return core.TokenClaims{}, fmt.Errorf("auth: signer is not configured")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	parsed, err := parser.ParseWithClaims(accessToken, &accessTokenClaims{}, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return core.TokenClaims{}, fmt.Errorf("auth: verify access token: %w", err)
	}
	payload, ok := parsed.Claims.(*accessTokenClaims)
	if !ok || !parsed.Valid {
		return core.TokenClaims{}, fmt.Errorf("auth: access token payload is malformed")
	}

	grant, err := core.ParseGrantType(payload.GrantType)
	if err != nil {
		return core.TokenClaims{}, err
	}
	return core.TokenClaims{
		GrantType: grant,
		ClientID:  payload.ClientID,
		UserID:    payload.UserID,
		IssuedAt:  payload.IssueTime,
		ExpiresIn: payload.ExpiresIn,
	}, nil
}
