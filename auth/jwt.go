package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tcriess/lightspeed-rooms/types"
)

const defaultIssuer = "lightspeed-rooms"

// Claims are the claims of the tokens accepted on the websocket and the history endpoints.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTIssuer signs and validates HS256 tokens.
type JWTIssuer struct {
	secret []byte
	issuer string
}

func NewJWTIssuer(secret, issuer string) *JWTIssuer {
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &JWTIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue creates a token for the user which is valid for ttl.
func (j *JWTIssuer) Issue(user types.User, ttl time.Duration) (string, error) {
	if len(j.secret) == 0 {
		return "", errors.New("no jwt secret configured")
	}
	now := time.Now()
	subject := user.Id
	if subject == "" {
		subject = user.Nick
	}
	claims := Claims{
		Username: user.Nick,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Validate parses the token and returns the user it was issued for.
func (j *JWTIssuer) Validate(tokenString string) (types.User, error) {
	if len(j.secret) == 0 {
		return types.User{}, fmt.Errorf("%w: no jwt secret configured", ErrUnauthenticated)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer))
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return types.User{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	user := types.User{Id: claims.Subject, Nick: claims.Username}
	if user.Nick == "" {
		user.Nick = user.Id
	}
	if user.Nick == "" {
		return types.User{}, fmt.Errorf("%w: token without username", ErrUnauthenticated)
	}
	return user, nil
}
