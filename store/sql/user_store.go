package sqlstore

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/drawbook/go-datastore/core"
	"github.com/drawbook/go-datastore/query"
)

const minPasswordLength = 6

// UserStore persists accounts. Passwords are stored as bcrypt hashes; a
// failed comparison is absence, never an error.
type UserStore struct {
	gateway *Gateway[*userRecord]
}

func NewUserStore(gateway *Gateway[*userRecord]) *UserStore {
	return &UserStore{gateway: gateway}
}

func (s *UserStore) FindByID(ctx context.Context, id int64) (core.User, bool, error) {
	record, found, err := s.gateway.FindByID(ctx, id)
	if err != nil || !found {
		return core.User{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (core.User, bool, error) {
	record, found, err := s.gateway.FindOne(ctx, query.Filter{"username": strings.TrimSpace(username)})
	if err != nil || !found {
		return core.User{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *UserStore) Register(ctx context.Context, in core.RegisterUserInput) (core.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return core.User{}, core.NewBadInput("sqlstore: username is required")
	}
	if len(in.Password) < minPasswordLength {
		return core.User{}, core.NewBadInput("sqlstore: password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return core.User{}, core.MapStorageError(err)
	}
	in.Password = string(hash)

	record, err := s.gateway.Insert(ctx, newUserRecord(in, time.Now().UTC()))
	if err != nil {
		return core.User{}, err
	}
	return record.toDomain(), nil
}

func (s *UserStore) Authenticate(ctx context.Context, username, password string) (core.User, bool, error) {
	user, found, err := s.FindByUsername(ctx, username)
	if err != nil || !found {
		return core.User{}, false, err
	}
	if !user.Enabled {
		return core.User{}, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return core.User{}, false, nil
	}
	return user, true, nil
}

func (s *UserStore) SetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < minPasswordLength {
		return core.NewBadInput("sqlstore: password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.MapStorageError(err)
	}
	_, found, err := s.gateway.UpdateByID(ctx, id, map[string]any{"password": string(hash)})
	if err != nil {
		return err
	}
	if !found {
		return core.NewBadInput("sqlstore: unknown user")
	}
	return nil
}

// UpdateBalance applies the delta in a single statement so concurrent
// adjustments never lose updates.
func (s *UserStore) UpdateBalance(ctx context.Context, id int64, delta int64) error {
	result, err := s.gateway.DB().NewUpdate().
		Model((*userRecord)(nil)).
		Set("balance = balance + ?", delta).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return core.MapStorageError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.MapStorageError(err)
	}
	if affected == 0 {
		return core.NewBadInput("sqlstore: unknown user")
	}
	return nil
}

func (s *UserStore) NicknamesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	records, err := s.gateway.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(records))
	for id, record := range records {
		out[id] = record.Nickname
	}
	return out, nil
}

// Gateway exposes the generic surface for callers that need list, paging
// or serialized output on top of the typed operations.
func (s *UserStore) Gateway() *Gateway[*userRecord] {
	if s == nil {
		return nil
	}
	return s.gateway
}
