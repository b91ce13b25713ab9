package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"authsvc/internal/auth"
)

type ctxKey string

const sessionContextKey ctxKey = "session"

// sessionToken pulls the raw token from the session cookie, falling back
// to an Authorization bearer header for non-browser clients.
func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// resolveSession decodes the token and re-hydrates the projection from the
// store so the session reflects current user state, not the state at mint
// time. A user deleted since mint time keeps the stale snapshot; handlers
// that need the record re-check the store and answer 404 themselves.
func (s *Server) resolveSession(r *http.Request) (*auth.SessionUser, error) {
	raw := sessionToken(r)
	if raw == "" {
		return nil, auth.ErrTokenInvalid
	}

	sess, err := s.Tokens.Decode(raw)
	if err != nil {
		return nil, err
	}

	current, err := s.Reconciler.Hydrate(r.Context(), sess.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return sess, nil
		}
		return nil, err
	}
	return current, nil
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.resolveSession(r)
		if err != nil {
			if errors.Is(err, auth.ErrTokenInvalid) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to read session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// redirectAnonymous guards browser-facing paths: instead of a JSON 401,
// unauthenticated requests bounce to the site root.
func (s *Server) redirectAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.resolveSession(r)
		if err != nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRoles(roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicAccess(roles) {
				next.ServeHTTP(w, r)
				return
			}

			sess := sessionFromContext(r.Context())
			if sess == nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if !roleAllowed(roles, sess.Role) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sessionFromContext(ctx context.Context) *auth.SessionUser {
	if val, ok := ctx.Value(sessionContextKey).(*auth.SessionUser); ok {
		return val
	}
	return nil
}
