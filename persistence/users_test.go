package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
)

func newTestAccount(username string) *types.Account {
	suffix := uuid.New().String()[:8]
	return &types.Account{
		Id:           uuid.New().String(),
		Username:     username + "-" + suffix,
		Email:        username + "-" + suffix + "@example.com",
		PasswordHash: "$2a$04$notarealhash",
		Created:      time.Now().UTC(),
	}
}

func TestUserStores(t *testing.T) {
	for name, factory := range persisterFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			store, err := UserStoreOf(factory(t))
			require.NoError(t, err)
			t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGetUser(t, store) })
			t.Run("Duplicates", func(t *testing.T) { testDuplicateUsers(t, store) })
			t.Run("NotFound", func(t *testing.T) { testUserNotFound(t, store) })
			t.Run("ConcurrentRegistration", func(t *testing.T) { testConcurrentRegistration(t, store) })
		})
	}
}

func testCreateAndGetUser(t *testing.T, store UserStore) {
	ctx := context.Background()
	account := newTestAccount("alice")
	require.NoError(t, store.CreateUser(ctx, account))

	byName, err := store.GetUserByName(ctx, account.Username)
	require.NoError(t, err)
	assert.Equal(t, account.Id, byName.Id)
	assert.Equal(t, account.Email, byName.Email)
	assert.Equal(t, account.PasswordHash, byName.PasswordHash)
	assert.WithinDuration(t, account.Created, byName.Created, time.Millisecond)

	byEmail, err := store.GetUserByEmail(ctx, account.Email)
	require.NoError(t, err)
	assert.Equal(t, account.Id, byEmail.Id)
	assert.Equal(t, account.Username, byEmail.Username)
}

func testDuplicateUsers(t *testing.T, store UserStore) {
	ctx := context.Background()
	account := newTestAccount("bob")
	require.NoError(t, store.CreateUser(ctx, account))

	sameName := newTestAccount("other")
	sameName.Username = account.Username
	assert.ErrorIs(t, store.CreateUser(ctx, sameName), ErrUserExists)

	sameEmail := newTestAccount("other")
	sameEmail.Email = account.Email
	assert.ErrorIs(t, store.CreateUser(ctx, sameEmail), ErrUserExists)

	// the failed registrations left nothing behind
	_, err := store.GetUserByEmail(ctx, sameName.Email)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetUserByName(ctx, sameEmail.Username)
	assert.ErrorIs(t, err, ErrUserNotFound)
	stored, err := store.GetUserByName(ctx, account.Username)
	require.NoError(t, err)
	assert.Equal(t, account.Id, stored.Id)
}

func testUserNotFound(t *testing.T, store UserStore) {
	ctx := context.Background()
	_, err := store.GetUserByName(ctx, "nobody-"+uuid.New().String())
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetUserByEmail(ctx, "nobody-"+uuid.New().String()+"@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func testConcurrentRegistration(t *testing.T, store UserStore) {
	ctx := context.Background()
	account := newTestAccount("carol")
	const n = 5
	errs := make([]error, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := *account
			a.Id = uuid.New().String()
			errs[i] = store.CreateUser(ctx, &a)
		}(i)
	}
	wg.Wait()
	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrUserExists)
	}
	assert.Equal(t, 1, created)
}

func TestUserStoreOfCachedPersister(t *testing.T) {
	p, err := NewPersister(&config.Config{
		PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"},
		HistoryConfig:     config.HistoryConfig{CacheRooms: 2, Limit: 10},
	})
	require.NoError(t, err)
	defer p.Close()
	require.IsType(t, &CachedPersist{}, p)

	store, err := UserStoreOf(p)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), newTestAccount("dave")))
}

type messagesOnly struct {
	Persister
}

func TestUserStoreOfUnsupported(t *testing.T) {
	_, err := UserStoreOf(messagesOnly{})
	assert.Error(t, err)
}
