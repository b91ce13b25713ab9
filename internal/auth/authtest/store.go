// Package authtest provides an in-memory credential store for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"authsvc/internal/auth"
)

// Store is a map-backed auth.Store. It enforces the same uniqueness
// constraints as the Postgres schema and reports violations with the
// same error code, so race-handling paths behave as in production.
type Store struct {
	mu       sync.Mutex
	users    map[string]*auth.User // keyed by email
	accounts []auth.Account
	tokens   map[string]auth.VerificationToken // keyed by hashed token

	// Err, when set, is returned by every method. Lets tests exercise
	// store-failure paths.
	Err error
}

var _ auth.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		users:  map[string]*auth.User{},
		tokens: map[string]auth.VerificationToken{},
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	return &cp
}

// Seed inserts a user directly, bypassing constraint checks.
func (s *Store) Seed(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[u.Email] = &u
}

// SeedAccount inserts an account row directly.
func (s *Store) SeedAccount(a auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.accounts = append(s.accounts, a)
}

// Accounts returns a snapshot of all account rows.
func (s *Store) Accounts() []auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// TokenCount reports how many verification tokens exist for an identifier.
func (s *Store) TokenCount(identifier string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, vt := range s.tokens {
		if vt.Identifier == identifier {
			n++
		}
	}
	return n
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.ID == id {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (s *Store) createUserLocked(params auth.CreateUserParams) (*auth.User, error) {
	if _, exists := s.users[params.Email]; exists {
		return nil, uniqueViolation()
	}
	if params.Role == "" {
		params.Role = auth.RoleUser
	}
	now := time.Now()
	u := &auth.User{
		ID:            uuid.NewString(),
		Name:          params.Name,
		Email:         params.Email,
		PasswordHash:  params.PasswordHash,
		Image:         params.Image,
		Role:          params.Role,
		EmailVerified: params.EmailVerified,
		PasswordSet:   params.PasswordSet,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.users[params.Email] = u
	return copyUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, params auth.CreateUserParams) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.createUserLocked(params)
}

func (s *Store) CreateUserWithAccount(_ context.Context, user auth.CreateUserParams, account auth.AccountParams) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, a := range s.accounts {
		if a.Provider == account.Provider && a.ProviderAccountID == account.ProviderAccountID {
			return nil, uniqueViolation()
		}
	}
	created, err := s.createUserLocked(user)
	if err != nil {
		return nil, err
	}
	s.accounts = append(s.accounts, auth.Account{
		ID:                uuid.NewString(),
		UserID:            created.ID,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		AccessToken:       account.AccessToken,
		IDToken:           account.IDToken,
		Scope:             account.Scope,
		TokenType:         account.TokenType,
		ExpiresAt:         account.ExpiresAt,
	})
	return created, nil
}

func (s *Store) UpsertAccount(_ context.Context, account auth.AccountParams) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for i := range s.accounts {
		a := &s.accounts[i]
		if a.Provider == account.Provider && a.ProviderAccountID == account.ProviderAccountID {
			a.AccessToken = account.AccessToken
			a.IDToken = account.IDToken
			a.Scope = account.Scope
			a.TokenType = account.TokenType
			a.ExpiresAt = account.ExpiresAt
			cp := *a
			return &cp, nil
		}
	}
	created := auth.Account{
		ID:                uuid.NewString(),
		UserID:            account.UserID,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		AccessToken:       account.AccessToken,
		IDToken:           account.IDToken,
		Scope:             account.Scope,
		TokenType:         account.TokenType,
		ExpiresAt:         account.ExpiresAt,
	}
	s.accounts = append(s.accounts, created)
	return &created, nil
}

func (s *Store) ListAccountProviders(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var providers []string
	for _, a := range s.accounts {
		if a.UserID == userID {
			providers = append(providers, a.Provider)
		}
	}
	return providers, nil
}

func (s *Store) MarkOAuthSignIn(_ context.Context, userID string, image *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.ID == userID {
			u.EmailVerified = true
			if image != nil {
				u.Image = image
			}
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

func (s *Store) ListUsers(_ context.Context, limit, offset int) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	all := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) SetPassword(_ context.Context, userID, hash string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.ID == userID {
			u.PasswordHash = &hash
			u.PasswordSet = true
			u.UpdatedAt = time.Now()
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdatePassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.ID == userID {
			u.PasswordHash = &hash
			u.PasswordSet = true
			u.PasswordResetToken = nil
			u.PasswordResetExpires = nil
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}

func (s *Store) SetPasswordReset(_ context.Context, userID, hashedToken string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, u := range s.users {
		if u.ID == userID {
			u.PasswordResetToken = &hashedToken
			u.PasswordResetExpires = &expires
			return nil
		}
	}
	return nil
}

func (s *Store) FindUserWithResetToken(_ context.Context, token string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, u := range s.users {
		if u.PasswordResetToken == nil || u.PasswordResetExpires == nil {
			continue
		}
		if u.PasswordResetExpires.Before(time.Now()) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(*u.PasswordResetToken), []byte(token)) == nil {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (s *Store) SetEmailVerified(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if u, ok := s.users[email]; ok {
		u.EmailVerified = true
		u.UpdatedAt = time.Now()
	}
	return nil
}

func (s *Store) CreateVerificationToken(_ context.Context, identifier, token string, expires time.Time) (*auth.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	vt := auth.VerificationToken{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Token:      token,
		Expires:    expires,
	}
	s.tokens[auth.HashString(token)] = vt
	return &vt, nil
}

func (s *Store) GetVerificationToken(_ context.Context, token string) (*auth.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	vt, ok := s.tokens[auth.HashString(token)]
	if !ok || vt.Expires.Before(time.Now()) {
		return nil, nil
	}
	return &vt, nil
}

func (s *Store) DeleteVerificationToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.tokens, auth.HashString(token))
	return nil
}

func (s *Store) DeleteVerificationTokens(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for key, vt := range s.tokens {
		if vt.Identifier == identifier {
			delete(s.tokens, key)
		}
	}
	return nil
}
