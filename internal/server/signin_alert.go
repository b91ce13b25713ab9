package server

import (
	"net/http"
	"time"

	"authsvc/internal/i18n"
)

func (s *Server) sendSignInAlert(r *http.Request, email, locale string) error {
	if s.Mailer == nil {
		return nil
	}

	content := i18n.SignInAlertEmail(
		locale,
		email,
		time.Now().UTC().Format(time.RFC1123),
		clientIP(r, s.trustedProxies),
		deriveLocation(r),
		r.UserAgent(),
	)

	return s.Mailer.Send(r.Context(), email, content.Subject, content.Text, content.HTML)
}
