package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"golang.org/x/crypto/bcrypt"
)

func newTestAccounts(t *testing.T) (*Accounts, *JWTIssuer) {
	t.Helper()
	p, err := persistence.NewBuntPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{DSN: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	store, err := persistence.UserStoreOf(p)
	require.NoError(t, err)
	issuer := NewJWTIssuer("secret", "")
	return NewAccounts(config.AuthConfig{BcryptCost: bcrypt.MinCost, TokenTTL: time.Hour}, store, issuer), issuer
}

func TestRegisterAndLogin(t *testing.T) {
	accounts, issuer := newTestAccounts(t)
	ctx := context.Background()

	account, token, err := accounts.Register(ctx, " alice ", "Alice@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.NotEqual(t, "password123", account.PasswordHash)
	user, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, account.Id, user.Id)
	assert.Equal(t, "alice", user.Nick)

	for _, login := range []string{"alice@example.com", "ALICE@example.com", "alice"} {
		loggedIn, token, err := accounts.Login(ctx, login, "password123")
		require.NoError(t, err, login)
		assert.Equal(t, account.Id, loggedIn.Id)
		user, err := issuer.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Nick)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	ctx := context.Background()
	_, _, err := accounts.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, _, err = accounts.Login(ctx, "alice@example.com", "password124")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = accounts.Login(ctx, "bob@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = accounts.Login(ctx, "bob", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = accounts.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestRegisterDuplicate(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	ctx := context.Background()
	_, _, err := accounts.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, _, err = accounts.Register(ctx, "alice", "other@example.com", "password123")
	assert.ErrorIs(t, err, persistence.ErrUserExists)
	_, _, err = accounts.Register(ctx, "alice2", "ALICE@example.com", "password123")
	assert.ErrorIs(t, err, persistence.ErrUserExists)
}

func TestRegisterValidation(t *testing.T) {
	accounts, _ := newTestAccounts(t)
	ctx := context.Background()
	tests := []struct {
		name     string
		username string
		email    string
		password string
		err      error
	}{
		{"missing username", "", "a@example.com", "password123", ErrMissingFields},
		{"missing email", "alice", "", "password123", ErrMissingFields},
		{"missing password", "alice", "a@example.com", "", ErrMissingFields},
		{"invalid email", "alice", "not-an-email", "password123", ErrInvalidEmail},
		{"email with name", "alice", "Alice <a@example.com>", "password123", ErrInvalidEmail},
		{"username with at", "al@ce", "a@example.com", "password123", ErrInvalidUsername},
		{"short password", "alice", "a@example.com", "short", ErrInvalidPassword},
		{"long password", "alice", "a@example.com", string(make([]byte, 73)), ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := accounts.Register(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
