package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/drawbook/go-datastore/core"
)

type userRecord struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64      `bun:"id,pk,autoincrement"`
	Username  string     `bun:"username,notnull"`
	Nickname  string     `bun:"nickname"`
	Password  string     `bun:"password,notnull"`
	Enabled   bool       `bun:"enabled"`
	Balance   int64      `bun:"balance"`
	AvatarURL string     `bun:"avatar_url"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete"`

	Tokens []*tokenRecord `bun:"rel:has-many,join:id=user_id"`
}

// RedactedFields keeps the password hash out of serialized output unless a
// caller explicitly selects it.
func (*userRecord) RedactedFields() []string {
	return []string{"password"}
}

// AllowedFields is the mutation allow-list for value-mapping writes.
func (*userRecord) AllowedFields() []string {
	return []string{"username", "nickname", "password", "enabled", "balance", "avatar_url"}
}

type tokenRecord struct {
	bun.BaseModel `bun:"table:tokens,alias:t"`

	ID           int64     `bun:"id,pk,autoincrement"`
	GrantType    string    `bun:"grant_type,notnull"`
	AccessToken  string    `bun:"access_token,notnull"`
	ExpiresIn    int64     `bun:"expires_in,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	ClientID     int64     `bun:"client_id,notnull"`
	UserID       int64     `bun:"user_id,notnull"`
	IssuedAt     int64     `bun:"issued_at,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`

	User *userRecord `bun:"rel:belongs-to,join:user_id=id"`
}

func newUserRecord(in core.RegisterUserInput, now time.Time) *userRecord {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return &userRecord{
		Username:  in.Username,
		Nickname:  in.Nickname,
		Password:  in.Password,
		Enabled:   enabled,
		AvatarURL: in.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTokenRecord(token core.Token, now time.Time) *tokenRecord {
	return &tokenRecord{
		GrantType:    token.GrantType.String(),
		AccessToken:  token.AccessToken,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
		ClientID:     token.ClientID,
		UserID:       token.UserID,
		IssuedAt:     token.IssuedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
