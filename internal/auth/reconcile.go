package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Identity is the claimed user profile presented by a credential form or
// an OAuth provider.
type Identity struct {
	Email string
	Name  string
	Image string
}

// AccountAssertion is the provider-side metadata accompanying an OAuth
// identity assertion.
type AccountAssertion struct {
	Provider          string
	ProviderAccountID string
	AccessToken       *string
	IDToken           *string
	Scope             *string
	TokenType         *string
	ExpiresAt         *time.Time
}

// Reconciler matches identity assertions against the credential store,
// creating or updating user and account records, and produces the
// session projection carried by the token.
type Reconciler struct {
	Store  Store
	Hasher PasswordHasher
}

func NewReconciler(store Store, hasher PasswordHasher) *Reconciler {
	return &Reconciler{Store: store, Hasher: hasher}
}

// Authenticate verifies an email/password pair against the store. Unknown
// email, OAuth-only account and wrong password all return
// ErrInvalidCredentials so callers cannot enumerate accounts.
func (r *Reconciler) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := r.Store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", email, err)
	}
	if user == nil || user.PasswordHash == nil || !r.Hasher.Compare(*user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ReconcileOAuth implements the OAuth sign-in contract: create the user and
// linked account on first sign-in, upsert the account and refresh profile
// state on every subsequent one. OAuth providers are treated as
// authoritative for email ownership, so the verified flag is forced on.
func (r *Reconciler) ReconcileOAuth(ctx context.Context, id Identity, assertion AccountAssertion) (*User, error) {
	if strings.TrimSpace(id.Email) == "" {
		return nil, ErrNoIdentity
	}

	user, err := r.Store.FindUserByEmail(ctx, id.Email)
	if err != nil {
		return nil, fmt.Errorf("reconcile lookup %s: %w", id.Email, err)
	}

	if user == nil {
		params, err := oauthUserParams(id)
		if err != nil {
			return nil, err
		}
		if err := validateAssertion(assertion); err != nil {
			return nil, err
		}

		created, err := r.Store.CreateUserWithAccount(ctx, params, accountParams("", assertion))
		switch {
		case err == nil:
			return created, nil
		case IsUniqueViolation(err):
			// Lost a concurrent create race; proceed with the winner's row.
			user, err = r.Store.FindUserByEmail(ctx, id.Email)
			if err != nil {
				return nil, fmt.Errorf("reconcile re-read %s: %w", id.Email, err)
			}
			if user == nil {
				return nil, ErrUserNotFound
			}
		default:
			return nil, fmt.Errorf("reconcile create %s: %w", id.Email, err)
		}
	}

	if err := validateAssertion(assertion); err != nil {
		return nil, err
	}
	if _, err := r.Store.UpsertAccount(ctx, accountParams(user.ID, assertion)); err != nil {
		return nil, fmt.Errorf("reconcile link %s/%s: %w", assertion.Provider, assertion.ProviderAccountID, err)
	}

	var image *string
	if strings.TrimSpace(id.Image) != "" {
		image = &id.Image
	}
	if err := r.Store.MarkOAuthSignIn(ctx, user.ID, image); err != nil {
		return nil, fmt.Errorf("reconcile update user %s: %w", user.ID, err)
	}

	refreshed, err := r.Store.FindUserByEmail(ctx, id.Email)
	if err != nil {
		return nil, fmt.Errorf("reconcile refresh %s: %w", id.Email, err)
	}
	if refreshed == nil {
		return nil, ErrUserNotFound
	}
	return refreshed, nil
}

// Hydrate re-reads current user state for a session token refresh. The
// session always reflects the store, at the cost of one lookup per decode.
func (r *Reconciler) Hydrate(ctx context.Context, email string) (*SessionUser, error) {
	user, err := r.Store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", email, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	providers, err := r.Store.ListAccountProviders(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("hydrate providers %s: %w", user.ID, err)
	}
	var linked *string
	if len(providers) > 0 {
		linked = &providers[0]
	}

	return &SessionUser{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		Name:          user.Name,
		Image:         user.Image,
		EmailVerified: user.EmailVerified,
		PasswordSet:   user.PasswordSet,
		Linked:        linked,
	}, nil
}

// oauthUserParams assembles and validates the user record for a first
// OAuth sign-in: email auto-verified, no password, default role.
func oauthUserParams(id Identity) (CreateUserParams, error) {
	name := strings.TrimSpace(id.Name)
	if len(name) < 2 || len(name) > 100 {
		return CreateUserParams{}, ErrIdentityRejected
	}
	if _, err := mail.ParseAddress(id.Email); err != nil {
		return CreateUserParams{}, ErrIdentityRejected
	}

	params := CreateUserParams{
		Name:          &name,
		Email:         id.Email,
		Role:          RoleUser,
		EmailVerified: true,
		PasswordSet:   false,
	}
	if strings.TrimSpace(id.Image) != "" {
		img := id.Image
		params.Image = &img
	}
	return params, nil
}

func validateAssertion(a AccountAssertion) error {
	if strings.TrimSpace(a.Provider) == "" || strings.TrimSpace(a.ProviderAccountID) == "" {
		return ErrAssertionRejected
	}
	return nil
}

func accountParams(userID string, a AccountAssertion) AccountParams {
	p := AccountParams{
		UserID:            userID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       a.AccessToken,
		IDToken:           a.IDToken,
		Scope:             a.Scope,
		TokenType:         a.TokenType,
		ExpiresAt:         a.ExpiresAt,
	}
	return p
}
