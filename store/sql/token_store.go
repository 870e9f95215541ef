package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/drawbook/go-datastore/core"
	"github.com/drawbook/go-datastore/query"
)

// TokenStore persists issued credentials. Storage enforces one live row per
// (grant_type, client_id, user_id); the issuer above turns the resulting
// duplicate-key signal into its race outcome.
type TokenStore struct {
	gateway *Gateway[*tokenRecord]
}

func NewTokenStore(gateway *Gateway[*tokenRecord]) *TokenStore {
	return &TokenStore{gateway: gateway}
}

func (s *TokenStore) FindByGrant(
	ctx context.Context,
	grantType core.GrantType,
	clientID, userID int64,
) (core.Token, bool, error) {
	record, found, err := s.gateway.FindOne(ctx, query.Filter{
		"grant_type": grantType.String(),
		"client_id":  clientID,
		"user_id":    userID,
	})
	if err != nil || !found {
		return core.Token{}, false, err
	}
	return record.toDomain(), true, nil
}

// FindByAccessToken loads the token row joined with its user in one query.
// A missing row means the token was revoked; a missing user comes back as a
// nil user alongside the token.
func (s *TokenStore) FindByAccessToken(ctx context.Context, accessToken string) (core.Token, *core.User, bool, error) {
	record := new(tokenRecord)
	err := s.gateway.DB().NewSelect().
		Model(record).
		Relation("User").
		Where("?TableAlias.access_token = ?", accessToken).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Token{}, nil, false, nil
		}
		return core.Token{}, nil, false, core.MapStorageError(err)
	}

	var user *core.User
	if record.User != nil {
		resolved := record.User.toDomain()
		user = &resolved
	}
	return record.toDomain(), user, true, nil
}

func (s *TokenStore) Create(ctx context.Context, token core.Token) (core.Token, error) {
	record, err := s.gateway.Insert(ctx, newTokenRecord(token, time.Now().UTC()))
	if err != nil {
		return core.Token{}, err
	}
	return record.toDomain(), nil
}

// Revoke removes every row carrying the access token and reports how many
// rows went away. Zero is a normal outcome for an already-revoked token.
func (s *TokenStore) Revoke(ctx context.Context, accessToken string) (int64, error) {
	result, err := s.gateway.DB().NewDelete().
		Model((*tokenRecord)(nil)).
		Where("access_token = ?", accessToken).
		Exec(ctx)
	if err != nil {
		return 0, core.MapStorageError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, core.MapStorageError(err)
	}
	return affected, nil
}

func (s *TokenStore) Gateway() *Gateway[*tokenRecord] {
	if s == nil {
		return nil
	}
	return s.gateway
}
