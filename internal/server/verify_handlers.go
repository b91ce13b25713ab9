package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"authsvc/internal/auth"
	"authsvc/internal/i18n"
)

const verificationTokenTTL = 1 * time.Hour

type sendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	var req sendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	ctx := r.Context()
	locale := i18n.LocaleFromRequest(r)
	emailKey := strings.ToLower(req.Email)
	cooldownKey := fmt.Sprintf("verify_cooldown:%s", emailKey)
	if ttl := s.RateLimiter.CooldownTTL(ctx, cooldownKey); ttl > 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]int64{"cooldown": int64(ttl.Seconds())})
		return
	}
	if locked, ttl, err := s.RateLimiter.RegisterVerifyAttempt(ctx, req.Email); err != nil {
		log.Printf("send verification: rate limit check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many verification requests. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	user, err := s.Users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("send verification: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user == nil || user.EmailVerified {
		writeError(w, http.StatusBadRequest, "User not found or already verified")
		return
	}

	if err := s.issueVerification(r, user, locale); err != nil {
		log.Printf("send verification: issue failed for %s: %v", user.Email, err)
		writeError(w, http.StatusInternalServerError, "Failed to issue verification token")
		return
	}
	s.RateLimiter.SetCooldown(ctx, cooldownKey, auth.EmailCooldown)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Verification email sent"})
}

// issueVerification replaces any outstanding token for the address before
// creating a new one, so only the latest link works. The email send is
// best-effort: a delivery failure leaves a valid token that a resend can
// replace.
func (s *Server) issueVerification(r *http.Request, user *auth.User, locale string) error {
	ctx := r.Context()
	token := uuid.NewString()
	expires := time.Now().Add(verificationTokenTTL)

	if err := s.Users.DeleteVerificationTokens(ctx, user.Email); err != nil {
		return err
	}
	if _, err := s.Users.CreateVerificationToken(ctx, user.Email, token, expires); err != nil {
		return err
	}

	s.audit(r, auth.AuditVerificationOut, user.ID, user.Email, nil)

	if s.Mailer == nil {
		return nil
	}
	link := fmt.Sprintf("%s/auth/verify/email?token=%s", s.Config.BaseURL, token)
	content := i18n.VerificationEmail(locale, link, int(verificationTokenTTL.Hours()))
	if err := s.Mailer.Send(ctx, user.Email, content.Subject, content.Text, content.HTML); err != nil {
		log.Printf("send verification: mail delivery failed for %s: %v", user.Email, err)
	}
	return nil
}

func (s *Server) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing token")
		return
	}

	ctx := r.Context()
	vt, err := s.Users.GetVerificationToken(ctx, token)
	if err != nil {
		log.Printf("confirm verification: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to verify email")
		return
	}
	if vt == nil {
		writeError(w, http.StatusBadRequest, "Invalid or expired token")
		return
	}

	if err := s.Users.SetEmailVerified(ctx, vt.Identifier); err != nil {
		log.Printf("confirm verification: mark verified failed for %s: %v", vt.Identifier, err)
		writeError(w, http.StatusInternalServerError, "Failed to verify email")
		return
	}
	// Single use: the consumed token is gone even if the same link is
	// opened twice.
	if err := s.Users.DeleteVerificationToken(ctx, token); err != nil {
		log.Printf("confirm verification: token delete failed for %s: %v", vt.Identifier, err)
	}
	s.RateLimiter.ResetVerify(ctx, vt.Identifier)
	s.audit(r, auth.AuditEmailVerified, "", vt.Identifier, nil)

	http.Redirect(w, r, s.Config.BaseURL+"/auth/signin?verified=1", http.StatusFound)
}
