package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/folkengine/goname"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Credential is what a client presents: a token and, for OIDC ID tokens, the name of the provider.
type Credential struct {
	Token    string
	Provider string
}

// CredentialFromRequest extracts the credential from the Authorization header ("Bearer <token>") or, as browsers
// cannot set headers on websocket requests, from the token/provider query parameters.
func CredentialFromRequest(r *http.Request) Credential {
	vals := r.URL.Query()
	cred := Credential{
		Token:    vals.Get("token"),
		Provider: vals.Get("provider"),
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			cred.Token = strings.TrimSpace(parts[1])
		}
	}
	return cred
}

// Authenticator resolves credentials to users.
type Authenticator struct {
	jwt         *JWTIssuer
	oidc        *oidcVerifier
	allowGuests bool
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		jwt:         NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer),
		oidc:        newOIDCVerifier(cfg.OIDCConfigs),
		allowGuests: cfg.AllowGuests,
	}
}

// Issuer returns the JWT issuer used to validate tokens without a provider.
func (a *Authenticator) Issuer() *JWTIssuer {
	return a.jwt
}

// Authenticate returns the user identified by the credential. Tokens without a provider are validated as JWTs,
// tokens with a provider as OIDC ID tokens. Without a token, a guest user is created if guests are allowed.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential) (types.User, error) {
	if cred.Token == "" {
		if !a.allowGuests {
			return types.User{}, ErrUnauthenticated
		}
		nick := goname.New(goname.FantasyMap).FirstLast() + " (guest)"
		globals.AppLogger.Debug("created guest user", "nick", nick)
		return types.User{Id: nick, Nick: nick}, nil
	}
	if cred.Provider != "" {
		return a.oidc.Verify(ctx, cred.Token, cred.Provider)
	}
	return a.jwt.Validate(cred.Token)
}
