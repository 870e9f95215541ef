package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/drawbook/go-datastore/auth"
	"github.com/drawbook/go-datastore/core"
	"github.com/drawbook/go-datastore/migrations"
	"github.com/drawbook/go-datastore/query"
	"github.com/drawbook/go-datastore/serialize"
	sqlstore "github.com/drawbook/go-datastore/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-datastore-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:datastore-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func registerUser(t *testing.T, users *sqlstore.UserStore, username string, balance int64) core.User {
	t.Helper()
	user, err := users.Register(context.Background(), core.RegisterUserInput{
		Username: username,
		Nickname: "nick-" + username,
		Password: "secret-" + username,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if balance != 0 {
		if err := users.UpdateBalance(context.Background(), user.ID, balance); err != nil {
			t.Fatalf("seed balance for %s: %v", username, err)
		}
	}
	return user
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"users", "tokens"} {
		var name string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &name); err != nil {
			t.Fatalf("query sqlite master: %v", err)
		}
		if name != table {
			t.Fatalf("expected %s table, got %q", table, name)
		}
	}
}

func TestUserStoreRegisterAndAuthenticate(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()

	created, err := users.Register(ctx, core.RegisterUserInput{
		Username: "john",
		Nickname: "Johnny",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected storage-assigned id")
	}
	if !created.Enabled {
		t.Fatalf("expected accounts to default to enabled")
	}
	if created.Password == "hunter2" {
		t.Fatalf("expected password to be stored hashed")
	}

	if _, err := users.Register(ctx, core.RegisterUserInput{
		Username: "john",
		Password: "another-secret",
	}); !core.IsDuplicateKey(err) {
		t.Fatalf("expected duplicate username to map to duplicate key, got %v", err)
	}

	if _, err := users.Register(ctx, core.RegisterUserInput{
		Username: "shorty",
		Password: "nope",
	}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if err := users.SetPassword(ctx, created.ID, "nope"); err == nil {
		t.Fatalf("expected short password to be rejected on rotation")
	}

	if _, ok, err := users.Authenticate(ctx, "john", "hunter2"); err != nil || !ok {
		t.Fatalf("expected authentication to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, err := users.Authenticate(ctx, "john", "wrong"); err != nil || ok {
		t.Fatalf("expected wrong password to be absence, not error, ok=%v err=%v", ok, err)
	}
	if _, ok, err := users.Authenticate(ctx, "ghost", "hunter2"); err != nil || ok {
		t.Fatalf("expected unknown user to be absence, ok=%v err=%v", ok, err)
	}

	if err := users.SetPassword(ctx, created.ID, "correct horse"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, ok, _ := users.Authenticate(ctx, "john", "hunter2"); ok {
		t.Fatalf("expected old password to stop working")
	}
	if _, ok, _ := users.Authenticate(ctx, "john", "correct horse"); !ok {
		t.Fatalf("expected new password to work")
	}
}

func TestUserStoreBalanceAndNicknames(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()

	john := registerUser(t, users, "john", 0)
	jane := registerUser(t, users, "jane", 0)

	if err := users.UpdateBalance(ctx, john.ID, 250); err != nil {
		t.Fatalf("credit balance: %v", err)
	}
	if err := users.UpdateBalance(ctx, john.ID, -100); err != nil {
		t.Fatalf("debit balance: %v", err)
	}
	reloaded, found, err := users.FindByID(ctx, john.ID)
	if err != nil || !found {
		t.Fatalf("reload user: found=%v err=%v", found, err)
	}
	if reloaded.Balance != 150 {
		t.Fatalf("expected balance 150, got %d", reloaded.Balance)
	}
	if err := users.UpdateBalance(ctx, 99999, 10); err == nil {
		t.Fatalf("expected unknown user balance update to fail")
	}

	nicknames, err := users.NicknamesByIDs(ctx, []int64{john.ID, jane.ID})
	if err != nil {
		t.Fatalf("load nicknames: %v", err)
	}
	if nicknames[john.ID] != "nick-john" || nicknames[jane.ID] != "nick-jane" {
		t.Fatalf("unexpected nicknames %v", nicknames)
	}
	empty, err := users.NicknamesByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty input to yield empty mapping without error, got %v %v", empty, err)
	}
}

func TestGatewayFindOperations(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()
	gateway := users.Gateway()

	john := registerUser(t, users, "john", 0)
	jane := registerUser(t, users, "jane", 0)

	byID, err := gateway.FindByIDs(ctx, []int64{john.ID, jane.ID, 99999})
	if err != nil {
		t.Fatalf("find by ids: %v", err)
	}
	if len(byID) != 2 {
		t.Fatalf("expected two records, got %d", len(byID))
	}

	byName, err := gateway.FindByField(ctx, "username", []any{"john", "ghost"})
	if err != nil {
		t.Fatalf("find by field: %v", err)
	}
	if len(byName) != 1 {
		t.Fatalf("expected one match, got %d", len(byName))
	}
	if _, err := gateway.FindByField(ctx, "bogus_column", []any{"x"}); err == nil {
		t.Fatalf("expected unknown column to be rejected")
	}

	if _, found, err := gateway.FindOne(ctx, query.Filter{"username": "ghost"}); err != nil || found {
		t.Fatalf("expected miss to be absence without error, found=%v err=%v", found, err)
	}

	record, found, err := gateway.FindByID(ctx, jane.ID)
	if err != nil || !found {
		t.Fatalf("find by id: found=%v err=%v", found, err)
	}
	if record.Username != "jane" {
		t.Fatalf("expected jane, got %q", record.Username)
	}

	match, found, err := gateway.FindOne(ctx, query.Filter{"id": john.ID})
	if err != nil || !found {
		t.Fatalf("expected integer equality filter to match, found=%v err=%v", found, err)
	}
	if match.Username != "john" {
		t.Fatalf("expected john, got %q", match.Username)
	}
}

func TestGatewayListFiltersAndPagination(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()
	gateway := users.Gateway()

	for i := 0; i < 25; i++ {
		registerUser(t, users, fmt.Sprintf("user-%02d", i), int64(i*10))
	}

	rich, _, err := gateway.List(ctx, query.Filter{"balance__gte": 200}, sqlstore.ListOptions{OrderBy: "balance"})
	if err != nil {
		t.Fatalf("list rich users: %v", err)
	}
	if len(rich) != 5 {
		t.Fatalf("expected five users with balance >= 200, got %d", len(rich))
	}

	if _, _, err := gateway.List(ctx, query.Filter{"username__like": "user%"}, sqlstore.ListOptions{}); !core.IsUnsupportedOperator(err) {
		t.Fatalf("expected unsupported operator, got %v", err)
	}

	page, window, err := gateway.List(ctx, query.Filter{}, sqlstore.ListOptions{
		OrderBy: "id",
		Paging:  &query.Paging{Offset: 0, Limit: 10},
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if window == nil || window.RowsFound != 25 || window.Limit != 10 || window.Offset != 0 {
		t.Fatalf("unexpected window %+v", window)
	}
	if len(page) != 10 {
		t.Fatalf("expected ten rows, got %d", len(page))
	}

	last, window, err := gateway.List(ctx, query.Filter{}, sqlstore.ListOptions{
		OrderBy: "id",
		Paging:  &query.Paging{Offset: -1, Limit: 10},
	})
	if err != nil {
		t.Fatalf("list last page: %v", err)
	}
	if window.Offset != 20 || window.RowsFound != 25 {
		t.Fatalf("expected last page at offset 20 of 25, got %+v", window)
	}
	if len(last) != 5 {
		t.Fatalf("expected five trailing rows, got %d", len(last))
	}

	again, windowAgain, err := gateway.List(ctx, query.Filter{}, sqlstore.ListOptions{
		OrderBy: "id",
		Paging:  &query.Paging{Offset: -1, Limit: 10},
	})
	if err != nil {
		t.Fatalf("repeat last page: %v", err)
	}
	if *windowAgain != *window || len(again) != len(last) {
		t.Fatalf("expected negative-offset paging to be idempotent")
	}

	coerced, window, err := gateway.List(ctx, query.Filter{}, sqlstore.ListOptions{
		OrderBy: "id",
		Paging:  &query.Paging{Offset: 0, Limit: 0},
	})
	if err != nil {
		t.Fatalf("list with zero limit: %v", err)
	}
	if window.Limit != query.DefaultLimit || len(coerced) != query.DefaultLimit {
		t.Fatalf("expected zero limit to coerce to %d, got %+v rows=%d", query.DefaultLimit, window, len(coerced))
	}
}

func TestGatewayCreateAndDirtyUpdate(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	gateway := factory.UserStore().Gateway()

	created, err := gateway.Create(ctx, map[string]any{
		"username": "maria",
		"nickname": "Mar",
		"password": "hash",
		"enabled":  true,
		"balance":  int64(40),
	})
	if err != nil {
		t.Fatalf("create from values: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected stamped timestamps")
	}

	if _, err := gateway.Create(ctx, map[string]any{"bogus": 1}); err == nil {
		t.Fatalf("expected unknown column to be rejected")
	}
	// Columns outside the allow-list are ignored, not applied.
	other, err := gateway.Create(ctx, map[string]any{
		"username":   "pedro",
		"password":   "hash",
		"deleted_at": time.Now(),
	})
	if err != nil {
		t.Fatalf("create with ignored column: %v", err)
	}
	if other.DeletedAt != nil {
		t.Fatalf("expected soft-delete flag to default to not deleted")
	}

	noop, found, err := gateway.UpdateByID(ctx, created.ID, map[string]any{"nickname": "Mar"})
	if err != nil || !found {
		t.Fatalf("no-op update: found=%v err=%v", found, err)
	}
	if !noop.UpdatedAt.Equal(created.UpdatedAt) {
		t.Fatalf("expected no write for unchanged values")
	}

	updated, found, err := gateway.UpdateByID(ctx, created.ID, map[string]any{
		"nickname": "Marita",
		"balance":  55,
	})
	if err != nil || !found {
		t.Fatalf("update: found=%v err=%v", found, err)
	}
	if updated.Nickname != "Marita" || updated.Balance != 55 {
		t.Fatalf("unexpected updated record %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("expected updated_at to advance on a real write")
	}

	if _, found, err := gateway.UpdateByID(ctx, 99999, map[string]any{"nickname": "x"}); err != nil || found {
		t.Fatalf("expected missing id to be absence, found=%v err=%v", found, err)
	}

	if _, _, err := gateway.UpdateByID(ctx, other.ID, map[string]any{"username": "maria"}); !core.IsDuplicateKey(err) {
		t.Fatalf("expected uniqueness violation on update, got %v", err)
	}
}

func TestGatewayListMapsSerializesRelated(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()

	john := registerUser(t, users, "john", 0)
	issuer := newIssuer(t, factory)
	if _, err := issuer.Issue(ctx, core.GrantTypePassword, 1, john.ID); err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rows, _, err := factory.TokenStore().Gateway().ListMaps(ctx,
		query.Filter{"user_id": john.ID},
		sqlstore.ListOptions{},
		serialize.Options{Recurse: true},
	)
	if err != nil {
		t.Fatalf("list token mappings: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one token row, got %d", len(rows))
	}
	nested, ok := rows[0]["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested user mapping, got %T", rows[0]["user"])
	}
	if nested["username"] != "john" {
		t.Fatalf("expected related user, got %v", nested)
	}
	if _, leaked := nested["password"]; leaked {
		t.Fatalf("expected password redaction on the related user")
	}
}

func TestGatewayRawQuery(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()

	registerUser(t, users, "john", 0)
	registerUser(t, users, "jane", 0)

	rows, err := users.Gateway().Raw(ctx, "SELECT COUNT(*) AS rows_found FROM users")
	if err != nil {
		t.Fatalf("raw query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one aggregate row, got %d", len(rows))
	}
	count, ok := rows[0]["rows_found"].(int64)
	if !ok || count != 2 {
		t.Fatalf("expected rows_found 2, got %v", rows[0]["rows_found"])
	}
}

func newIssuer(t *testing.T, factory *sqlstore.RepositoryFactory) *auth.Issuer {
	t.Helper()
	signer, err := auth.NewSigner("server-secret", "token-salt")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	issuer, err := auth.NewIssuer(factory.TokenStore(), signer)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestTokenStoreJoinsUserAndRevokes(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()
	tokens := factory.TokenStore()

	john := registerUser(t, users, "john", 0)
	issuer := newIssuer(t, factory)

	grant, err := issuer.Issue(ctx, core.GrantTypePassword, 1, john.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	token, user, found, err := tokens.FindByAccessToken(ctx, grant.AccessToken)
	if err != nil || !found {
		t.Fatalf("find by access token: found=%v err=%v", found, err)
	}
	if user == nil || user.Username != "john" {
		t.Fatalf("expected joined user, got %+v", user)
	}
	if token.RefreshToken != grant.RefreshToken {
		t.Fatalf("expected persisted refresh token to match the grant")
	}

	repeat, err := issuer.Issue(ctx, core.GrantTypePassword, 1, john.ID)
	if err != nil {
		t.Fatalf("repeat issue: %v", err)
	}
	if repeat.AccessToken != grant.AccessToken {
		t.Fatalf("expected idempotent issuance against storage")
	}

	removed, err := tokens.Revoke(ctx, grant.AccessToken)
	if err != nil || removed != 1 {
		t.Fatalf("revoke: removed=%d err=%v", removed, err)
	}
	if _, _, found, _ := tokens.FindByAccessToken(ctx, grant.AccessToken); found {
		t.Fatalf("expected revoked token to be absent")
	}
}

func TestTokenIssuanceConcurrentUniqueness(t *testing.T) {
	factory, cleanup := newFactory(t)
	defer cleanup()
	ctx := context.Background()
	users := factory.UserStore()

	john := registerUser(t, users, "john", 0)
	issuer := newIssuer(t, factory)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = issuer.Issue(ctx, core.GrantTypePassword, 1, john.ID)
		}(worker)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !core.IsTokenIssuedTooOften(err) {
			t.Fatalf("expected nil or issued-too-often, got %v", err)
		}
	}

	count, err := factory.DB().NewSelect().
		Table("tokens").
		Where("user_id = ?", john.ID).
		Count(ctx)
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one persisted token row, got %d", count)
	}
}
