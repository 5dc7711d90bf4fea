package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-rooms/types"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore keeps the registered accounts. All backends implement it next to the message store.
type UserStore interface {
	// CreateUser stores the account. It returns ErrUserExists if the username or the email is already taken.
	CreateUser(ctx context.Context, account *types.Account) error
	GetUserByName(ctx context.Context, username string) (*types.Account, error)
	GetUserByEmail(ctx context.Context, email string) (*types.Account, error)
}

// UserStoreOf returns the user store backing the persister.
func UserStoreOf(p Persister) (UserStore, error) {
	if cached, ok := p.(*CachedPersist); ok {
		p = cached.Persister
	}
	store, ok := p.(UserStore)
	if !ok {
		return nil, fmt.Errorf("persister %T cannot store users", p)
	}
	return store, nil
}
