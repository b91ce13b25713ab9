package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	BaseURL        string
	DatabaseURL    string
	RedisURL       string
	LogFile        string
	SessionSecret  string
	SessionTTL     time.Duration
	TrustedProxies []string
	Email          EmailConfig
	OAuth          OAuthConfig
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
	// Timeout bounds the SMTP dial and send so a stalled relay cannot
	// hang a request.
	Timeout time.Duration
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

type OAuthProvider struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Issuer is only set for providers with tenant-specific endpoints
	// (Auth0).
	Issuer string
}

func (p OAuthProvider) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuthConfig struct {
	Google OAuthProvider
	Auth0  OAuthProvider
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	rawPort := strings.Trim(getenvDefault("EMAIL_SERVER_PORT", "587"), "\"' ")
	emailPort, err := strconv.Atoi(rawPort)
	if err != nil {
		emailPort = 587
	}

	cfg := Config{
		Port:           getenvDefault("PORT", "8080"),
		BaseURL:        firstNonEmpty(os.Getenv("APP_BASE_URL"), os.Getenv("NEXTAUTH_URL"), "http://localhost:3000"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getenvDefault("REDIS_URL", "redis://localhost:6379"),
		LogFile:        getenvDefault("LOG_FILE", "logs/server.log"),
		SessionSecret:  firstNonEmpty(os.Getenv("SESSION_SECRET"), os.Getenv("NEXTAUTH_SECRET")),
		SessionTTL:     parseDuration(os.Getenv("SESSION_TTL"), 24*time.Hour),
		TrustedProxies: parseList(os.Getenv("TRUSTED_PROXIES")),
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     emailPort,
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
		Timeout:  parseDuration(os.Getenv("EMAIL_TIMEOUT"), 10*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required")
	}

	cfg.OAuth = OAuthConfig{
		Google: OAuthProvider{
			ClientID:     os.Getenv("AUTH_GOOGLE_ID"),
			ClientSecret: os.Getenv("AUTH_GOOGLE_SECRET"),
			RedirectURL:  getenvDefault("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/oauth/google/callback"),
		},
		Auth0: OAuthProvider{
			ClientID:     os.Getenv("AUTH_AUTH0_ID"),
			ClientSecret: os.Getenv("AUTH_AUTH0_SECRET"),
			Issuer:       strings.TrimSuffix(os.Getenv("AUTH_AUTH0_ISSUER"), "/"),
			RedirectURL:  getenvDefault("AUTH0_REDIRECT_URL", cfg.BaseURL+"/auth/oauth/auth0/callback"),
		},
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
