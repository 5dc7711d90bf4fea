package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores everything after 72 bytes
	maxUsernameLength = 64
)

var (
	ErrMissingFields      = errors.New("all fields are required")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = fmt.Errorf("password must be between %d and %d bytes", minPasswordLength, maxPasswordLength)
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Accounts registers users and logs them in. Both return a token issued by the JWT issuer, which is accepted by
// the Authenticator.
type Accounts struct {
	store  persistence.UserStore
	hasher *PasswordHasher
	issuer *JWTIssuer
	ttl    time.Duration
}

func NewAccounts(cfg config.AuthConfig, store persistence.UserStore, issuer *JWTIssuer) *Accounts {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Accounts{
		store:  store,
		hasher: NewPasswordHasher(cfg.BcryptCost),
		issuer: issuer,
		ttl:    ttl,
	}
}

// Register creates the account and returns it together with a token for it. It fails with ErrUserExists if the
// username or the email is already registered.
func (a *Accounts) Register(ctx context.Context, username, email, password string) (*types.Account, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, "", ErrMissingFields
	}
	if len(username) > maxUsernameLength || strings.ContainsAny(username, "@\r\n\t") {
		return nil, "", ErrInvalidUsername
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, "", ErrInvalidEmail
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return nil, "", ErrInvalidPassword
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, "", fmt.Errorf("could not hash password: %w", err)
	}
	account := &types.Account{
		Id:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Created:      time.Now().UTC(),
	}
	err = a.store.CreateUser(ctx, account)
	if err != nil {
		return nil, "", err
	}
	globals.AppLogger.Info("user registered", "username", username, "id", account.Id)
	token, err := a.issuer.Issue(account.User(), a.ttl)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

// Login checks the password of the account identified by login, which is the email or the username (usernames
// never contain "@"). Unknown
// accounts and wrong passwords both fail with ErrInvalidCredentials.
func (a *Accounts) Login(ctx context.Context, login, password string) (*types.Account, string, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, "", ErrMissingFields
	}
	var account *types.Account
	var err error
	if strings.Contains(login, "@") {
		account, err = a.store.GetUserByEmail(ctx, strings.ToLower(login))
	} else {
		account, err = a.store.GetUserByName(ctx, login)
	}
	if errors.Is(err, persistence.ErrUserNotFound) {
		globals.AppLogger.Debug("login for unknown user", "login", login)
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !a.hasher.Verify(password, account.PasswordHash) {
		globals.AppLogger.Debug("invalid password", "username", account.Username)
		return nil, "", ErrInvalidCredentials
	}
	token, err := a.issuer.Issue(account.User(), a.ttl)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}
