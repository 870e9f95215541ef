package sqlstore

import (
	"github.com/drawbook/go-datastore/core"
)

func (r *userRecord) toDomain() core.User {
	if r == nil {
		return core.User{}
	}
	return core.User{
		ID:        r.ID,
		Username:  r.Username,
		Nickname:  r.Nickname,
		Password:  r.Password,
		Enabled:   r.Enabled,
		Balance:   r.Balance,
		AvatarURL: r.AvatarURL,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *tokenRecord) toDomain() core.Token {
	if r == nil {
		return core.Token{}
	}
	return core.Token{
		ID:           r.ID,
		GrantType:    core.GrantType(r.GrantType),
		AccessToken:  r.AccessToken,
		ExpiresIn:    r.ExpiresIn,
		RefreshToken: r.RefreshToken,
		ClientID:     r.ClientID,
		UserID:       r.UserID,
		IssuedAt:     r.IssuedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
