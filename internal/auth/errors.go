package auth

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong password
	// so callers cannot distinguish them.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrNoIdentity        = errors.New("identity assertion is empty")
	ErrIdentityRejected  = errors.New("identity assertion failed validation")
	ErrAssertionRejected = errors.New("account assertion failed validation")
	ErrUserNotFound      = errors.New("user not found")
	ErrTokenInvalid      = errors.New("token expired or invalid")
)
