package types

import "time"

// User is the authenticated identity attached to a connection.
type User struct {
	Id   string `json:"id"`   // token subject or e-mail, unique
	Nick string `json:"nick"` // username shown as message author
}

// Account is a registered user. Username and Email are unique, Email is stored lower case.
type Account struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Created      time.Time `json:"created"`
}

// User returns the identity tokens are issued for.
func (a *Account) User() User {
	return User{Id: a.Id, Nick: a.Username}
}
