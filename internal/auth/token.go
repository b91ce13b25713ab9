package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionUser is the user-state projection a session token carries. It is
// a point-in-time snapshot; the server re-hydrates it from the store on
// every decode and treats the incoming token as untrusted input.
type SessionUser struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Role          string  `json:"role"`
	Name          *string `json:"name,omitempty"`
	Image         *string `json:"image,omitempty"`
	EmailVerified bool    `json:"isEmailVerified"`
	PasswordSet   bool    `json:"isPasswordSet"`
	Linked        *string `json:"isLinked"`
}

type SessionClaims struct {
	jwt.RegisteredClaims
	User SessionUser `json:"user"`
}

// TokenCodec mints and decodes the signed bearer session token.
type TokenCodec struct {
	secret []byte
	maxAge time.Duration
}

func NewTokenCodec(secret string, maxAge time.Duration) *TokenCodec {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &TokenCodec{secret: []byte(secret), maxAge: maxAge}
}

func (c *TokenCodec) MaxAge() time.Duration {
	return c.maxAge
}

func (c *TokenCodec) Mint(user SessionUser) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
		User: user,
	})
	return token.SignedString(c.secret)
}

// Decode verifies signature and expiry and returns the embedded
// projection. Any failure maps to ErrTokenInvalid.
func (c *TokenCodec) Decode(raw string) (*SessionUser, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	user := claims.User
	return &user, nil
}
