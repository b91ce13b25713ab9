package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `"id","name","email","password","image","role","isEmailVerified","isPasswordSet","passwordResetToken","passwordResetExpires","createdAt","updatedAt"`

// Repository is the pgx-backed credential store.
type Repository struct {
	DB *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "email"=$1
	`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *Repository) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "id"=$1
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *Repository) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	if params.Role == "" {
		params.Role = RoleUser
	}
	if !ValidRole(params.Role) {
		return nil, fmt.Errorf("invalid role %q", params.Role)
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "User"
		("id","name","email","password","image","role","isEmailVerified","isPasswordSet")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+userColumns+`
	`, uuid.NewString(), params.Name, params.Email, params.PasswordHash, params.Image, params.Role, params.EmailVerified, params.PasswordSet)
	return scanUser(row)
}

func (r *Repository) CreateUserWithAccount(ctx context.Context, user CreateUserParams, account AccountParams) (*User, error) {
	if user.Role == "" {
		user.Role = RoleUser
	}
	if !ValidRole(user.Role) {
		return nil, fmt.Errorf("invalid role %q", user.Role)
	}
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO "User"
		("id","name","email","password","image","role","isEmailVerified","isPasswordSet")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+userColumns+`
	`, uuid.NewString(), user.Name, user.Email, user.PasswordHash, user.Image, user.Role, user.EmailVerified, user.PasswordSet)

	created, err := scanUser(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO "Account"
		("id","userId","provider","providerAccountId","access_token","id_token","scope","token_type","expires_at")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, uuid.NewString(), created.ID, account.Provider, account.ProviderAccountID,
		account.AccessToken, account.IDToken, account.Scope, account.TokenType, account.ExpiresAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) UpsertAccount(ctx context.Context, account AccountParams) (*Account, error) {
	now := time.Now()
	row := r.DB.QueryRow(ctx, `
		INSERT INTO "Account"
		("id","userId","provider","providerAccountId","access_token","id_token","scope","token_type","expires_at","createdAt","updatedAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT ("provider","providerAccountId") DO UPDATE SET
			"access_token"=EXCLUDED."access_token",
			"id_token"=EXCLUDED."id_token",
			"scope"=EXCLUDED."scope",
			"token_type"=EXCLUDED."token_type",
			"expires_at"=EXCLUDED."expires_at",
			"updatedAt"=EXCLUDED."updatedAt"
		RETURNING "id","userId","provider","providerAccountId","access_token","id_token","scope","token_type","expires_at","createdAt","updatedAt"
	`, uuid.NewString(), account.UserID, account.Provider, account.ProviderAccountID,
		account.AccessToken, account.IDToken, account.Scope, account.TokenType, account.ExpiresAt, now, now)
	return scanAccount(row)
}

func (r *Repository) ListAccountProviders(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT "provider" FROM "Account"
		WHERE "userId"=$1
		ORDER BY "createdAt" ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// MarkOAuthSignIn refreshes profile state on an OAuth re-login: the
// provider is authoritative for email ownership, so the verified flag is
// forced on; the image is replaced only when the provider supplied one.
func (r *Repository) MarkOAuthSignIn(ctx context.Context, userID string, image *string) error {
	if image != nil {
		_, err := r.DB.Exec(ctx, `
			UPDATE "User" SET "image"=$1, "isEmailVerified"=TRUE, "updatedAt"=NOW()
			WHERE "id"=$2
		`, image, userID)
		return err
	}
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "isEmailVerified"=TRUE, "updatedAt"=NOW()
		WHERE "id"=$1
	`, userID)
	return err
}

func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		ORDER BY "createdAt" DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetPassword stores a credential through the post-OAuth bootstrap path,
// flipping isPasswordSet in the same statement.
func (r *Repository) SetPassword(ctx context.Context, userID, hash string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE "User"
		SET "password"=$1, "isPasswordSet"=TRUE, "updatedAt"=NOW()
		WHERE "id"=$2
		RETURNING `+userColumns+`
	`, hash, userID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *Repository) UpdatePassword(ctx context.Context, userID, hash string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "password"=$1,
		    "isPasswordSet"=TRUE,
		    "passwordResetToken"=NULL,
		    "passwordResetExpires"=NULL,
		    "updatedAt"=NOW()
		WHERE "id"=$2
	`, hash, userID)
	return err
}

func (r *Repository) SetPasswordReset(ctx context.Context, userID, hashedToken string, expires time.Time) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User"
		SET "passwordResetToken"=$1, "passwordResetExpires"=$2
		WHERE "id"=$3
	`, hashedToken, expires, userID)
	return err
}

func (r *Repository) FindUserWithResetToken(ctx context.Context, token string) (*User, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "passwordResetToken" IS NOT NULL AND "passwordResetExpires" > NOW()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		if user.PasswordResetToken != nil && bcrypt.CompareHashAndPassword([]byte(*user.PasswordResetToken), []byte(token)) == nil {
			return user, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *Repository) SetEmailVerified(ctx context.Context, email string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "User" SET "isEmailVerified"=TRUE, "updatedAt"=NOW()
		WHERE "email"=$1
	`, email)
	return err
}

func (r *Repository) CreateVerificationToken(ctx context.Context, identifier, token string, expires time.Time) (*VerificationToken, error) {
	id := uuid.NewString()
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "VerificationToken" ("id","identifier","token","expires")
		VALUES ($1,$2,$3,$4)
	`, id, identifier, HashString(token), expires)
	if err != nil {
		return nil, err
	}
	return &VerificationToken{ID: id, Identifier: identifier, Token: token, Expires: expires}, nil
}

// GetVerificationToken returns the unexpired token row for a presented
// value, or nil. Expired rows are left in place; they are inert.
func (r *Repository) GetVerificationToken(ctx context.Context, token string) (*VerificationToken, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT "id","identifier","token","expires"
		FROM "VerificationToken"
		WHERE "token"=$1 AND "expires" > NOW()
	`, HashString(token))

	var vt VerificationToken
	if err := row.Scan(&vt.ID, &vt.Identifier, &vt.Token, &vt.Expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &vt, nil
}

func (r *Repository) DeleteVerificationToken(ctx context.Context, token string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM "VerificationToken" WHERE "token"=$1`, HashString(token))
	return err
}

func (r *Repository) DeleteVerificationTokens(ctx context.Context, identifier string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM "VerificationToken" WHERE "identifier"=$1`, identifier)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		id            string
		name          sql.NullString
		email         string
		password      sql.NullString
		image         sql.NullString
		role          string
		emailVerified bool
		passwordSet   bool
		resetToken    sql.NullString
		resetExpires  sql.NullTime
		createdAt     time.Time
		updatedAt     time.Time
	)

	if err := row.Scan(
		&id,
		&name,
		&email,
		&password,
		&image,
		&role,
		&emailVerified,
		&passwordSet,
		&resetToken,
		&resetExpires,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	return &User{
		ID:                   id,
		Name:                 nullStringPtr(name),
		Email:                email,
		PasswordHash:         nullStringPtr(password),
		Image:                nullStringPtr(image),
		Role:                 role,
		EmailVerified:        emailVerified,
		PasswordSet:          passwordSet,
		PasswordResetToken:   nullStringPtr(resetToken),
		PasswordResetExpires: nullTimePtr(resetExpires),
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		id          string
		userID      string
		provider    string
		providerAID string
		accessToken sql.NullString
		idToken     sql.NullString
		scope       sql.NullString
		tokenType   sql.NullString
		expiresAt   sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
	)

	if err := row.Scan(&id, &userID, &provider, &providerAID, &accessToken, &idToken, &scope, &tokenType, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	return &Account{
		ID:                id,
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: providerAID,
		AccessToken:       nullStringPtr(accessToken),
		IDToken:           nullStringPtr(idToken),
		Scope:             nullStringPtr(scope),
		TokenType:         nullStringPtr(tokenType),
		ExpiresAt:         nullTimePtr(expiresAt),
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}
