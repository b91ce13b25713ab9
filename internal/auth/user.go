package auth

import "time"

const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
	RoleUser    = "USER"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID                   string
	Name                 *string
	Email                string
	PasswordHash         *string
	Image                *string
	Role                 string
	EmailVerified        bool
	PasswordSet          bool
	PasswordResetToken   *string
	PasswordResetExpires *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Account links a user to an external OAuth provider identity.
// (Provider, ProviderAccountID) is unique; one user may hold several.
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       *string
	IDToken           *string
	Scope             *string
	TokenType         *string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// VerificationToken is a single-use email confirmation token. The
// identifier is the email address the token verifies. Token values are
// stored hashed.
type VerificationToken struct {
	ID         string
	Identifier string
	Token      string
	Expires    time.Time
}
