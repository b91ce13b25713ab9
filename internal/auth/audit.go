package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	AuditRegister        = "register"
	AuditLoginSuccess    = "login_success"
	AuditLoginFailure    = "login_failure"
	AuditOAuthSignIn     = "oauth_sign_in"
	AuditOAuthDenied     = "oauth_denied"
	AuditEmailVerified   = "email_verified"
	AuditPasswordSet     = "password_set"
	AuditPasswordReset   = "password_reset"
	AuditPasswordForgot  = "password_forgot"
	AuditLogout          = "logout"
	AuditVerificationOut = "verification_issued"
)

type AuditEvent struct {
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId,omitempty"`
	Email     string                 `json:"email,omitempty"`
	IP        string                 `json:"ip"`
	UserAgent string                 `json:"userAgent"`
	Timestamp time.Time              `json:"timestamp"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// AuditLogger appends auth events to capped Redis lists, one per user
// plus a global stream.
type AuditLogger struct {
	Redis  *redis.Client
	MaxLen int64
}

func (a *AuditLogger) Log(ctx context.Context, e AuditEvent) error {
	e.Timestamp = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := "audit"
	if e.UserID != "" {
		key = "audit:" + e.UserID
	}

	pipe := a.Redis.Pipeline()
	pipe.RPush(ctx, key, data)
	if a.MaxLen > 0 {
		pipe.LTrim(ctx, key, -a.MaxLen, -1)
	}

	_, err = pipe.Exec(ctx)
	return err
}
