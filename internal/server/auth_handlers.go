package server

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"authsvc/internal/auth"
	"authsvc/internal/i18n"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if details := validateRegistration(req.Name, req.Email, req.Password); details != nil {
		writeValidationError(w, details)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterRegisterAttempt(ctx, req.Email, ip); err != nil {
		log.Printf("register: rate limit check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Registration throttled")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many signup attempts. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	existing, err := s.Users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("register: lookup by email failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to check user")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "A user with this email already exists.")
		return
	}

	hashed, err := s.Hasher.Hash(req.Password)
	if err != nil {
		log.Printf("register: hash failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	name := strings.TrimSpace(req.Name)
	user, err := s.Users.CreateUser(ctx, auth.CreateUserParams{
		Name:         &name,
		Email:        req.Email,
		PasswordHash: &hashed,
		Role:         auth.RoleUser,
		PasswordSet:  true,
	})
	if err != nil {
		// A concurrent registration with the same email wins the race on
		// the unique constraint; report it the same as a prior signup.
		if auth.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "A user with this email already exists.")
			return
		}
		log.Printf("register: create user failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	s.audit(r, auth.AuditRegister, user.ID, user.Email, nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User registered successfully",
		"user":    sanitizedUser(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	ip := clientIP(r, s.trustedProxies)

	if s.RateLimiter.IsIPBanned(ctx, ip) {
		writeError(w, http.StatusForbidden, "IP_BANNED")
		return
	}

	user, err := s.Reconciler.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = s.RateLimiter.RegisterLoginFailure(ctx, ip)
			s.audit(r, auth.AuditLoginFailure, "", req.Email, nil)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Printf("login: authenticate failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	sess, err := s.Reconciler.Hydrate(ctx, user.Email)
	if err != nil {
		log.Printf("login: hydrate failed for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := s.Tokens.Mint(*sess)
	if err != nil {
		log.Printf("login: token mint failed for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	expires := time.Now().Add(s.Tokens.MaxAge())
	s.RateLimiter.ResetLogin(ctx, ip)
	auth.SetSessionCookie(w, token, expires)
	s.audit(r, auth.AuditLoginSuccess, user.ID, user.Email, nil)
	_ = s.sendSignInAlert(r, user.Email, locale)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    sess,
		"expires": expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, err := s.resolveSession(r); err == nil {
		s.audit(r, auth.AuditLogout, sess.ID, sess.Email, nil)
	}
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := s.Users.FindUserByEmail(r.Context(), sess.Email)
	if err != nil {
		log.Printf("me: lookup failed for %s: %v", sess.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": sess})
}

// handleSetPassword bootstraps a credential for an OAuth-only account.
// The session's email is the only identity this endpoint will update, and
// a hash that is already set is never overwritten through this path.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if sess.PasswordSet {
		writeError(w, http.StatusForbidden, "Password already set")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	password := strings.TrimSpace(string(body))
	if msg := validatePassword(password); msg != "" {
		writeValidationError(w, map[string]string{"password": msg})
		return
	}

	ctx := r.Context()
	user, err := s.Users.FindUserByEmail(ctx, sess.Email)
	if err != nil {
		log.Printf("set password: lookup failed for %s: %v", sess.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	// The token snapshot can lag the store; the stored flag is authoritative.
	if user.PasswordSet || user.PasswordHash != nil {
		writeError(w, http.StatusForbidden, "Password already set")
		return
	}

	hashed, err := s.Hasher.Hash(password)
	if err != nil {
		log.Printf("set password: hash failed for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	updated, err := s.Users.SetPassword(ctx, user.ID, hashed)
	if err != nil {
		log.Printf("set password: update failed for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	s.audit(r, auth.AuditPasswordSet, user.ID, user.Email, nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Password updated successfully",
		"user":    sanitizedUser(updated),
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.Users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		log.Printf("list users: query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	out := make([]map[string]interface{}, 0, len(users))
	for i := range users {
		u := &users[i]
		out = append(out, map[string]interface{}{
			"id":              u.ID,
			"email":           u.Email,
			"name":            u.Name,
			"role":            u.Role,
			"image":           u.Image,
			"isEmailVerified": u.EmailVerified,
			"isPasswordSet":   u.PasswordSet,
			"createdAt":       u.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": sess})
}

func (s *Server) audit(r *http.Request, eventType, userID, email string, meta map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Log(r.Context(), auth.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
		Meta:      meta,
	})
}
