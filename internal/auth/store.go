package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type CreateUserParams struct {
	Name          *string
	Email         string
	PasswordHash  *string
	Image         *string
	Role          string
	EmailVerified bool
	PasswordSet   bool
}

type AccountParams struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       *string
	IDToken           *string
	Scope             *string
	TokenType         *string
	ExpiresAt         *time.Time
}

// Store is the credential-store surface the reconciler and handlers
// depend on. Lookup methods return (nil, nil) when no row matches.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	// CreateUserWithAccount creates both rows in a single transaction so a
	// rejected account payload never leaves an orphaned user behind.
	CreateUserWithAccount(ctx context.Context, user CreateUserParams, account AccountParams) (*User, error)
	UpsertAccount(ctx context.Context, account AccountParams) (*Account, error)
	ListAccountProviders(ctx context.Context, userID string) ([]string, error)
	MarkOAuthSignIn(ctx context.Context, userID string, image *string) error
	ListUsers(ctx context.Context, limit, offset int) ([]User, error)

	SetPassword(ctx context.Context, userID, hash string) (*User, error)
	UpdatePassword(ctx context.Context, userID, hash string) error
	SetPasswordReset(ctx context.Context, userID, hashedToken string, expires time.Time) error
	FindUserWithResetToken(ctx context.Context, token string) (*User, error)

	SetEmailVerified(ctx context.Context, email string) error
	CreateVerificationToken(ctx context.Context, identifier, token string, expires time.Time) (*VerificationToken, error)
	GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error)
	DeleteVerificationToken(ctx context.Context, token string) error
	DeleteVerificationTokens(ctx context.Context, identifier string) error
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
// Concurrent identical sign-ins race on the email and provider-pair
// uniqueness constraints; callers treat the loser as "already exists".
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
