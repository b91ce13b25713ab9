package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"authsvc/internal/auth"
	"authsvc/internal/config"
)

// Mailer delivers rendered email content. A nil Mailer disables outbound
// mail without disabling the flows that would send it.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// Limiter is the abuse-throttling surface the handlers depend on.
type Limiter interface {
	IsIPBanned(ctx context.Context, ip string) bool
	RegisterLoginFailure(ctx context.Context, ip string) error
	ResetLogin(ctx context.Context, ip string)
	RegisterVerifyAttempt(ctx context.Context, email string) (bool, time.Duration, error)
	ResetVerify(ctx context.Context, email string)
	RegisterResetAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error)
	RegisterRegisterAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error)
	CooldownTTL(ctx context.Context, key string) time.Duration
	SetCooldown(ctx context.Context, key string, ttl time.Duration)
}

// Auditor records authentication events.
type Auditor interface {
	Log(ctx context.Context, e auth.AuditEvent) error
}

type Server struct {
	Users          auth.Store
	Reconciler     *auth.Reconciler
	Tokens         *auth.TokenCodec
	RateLimiter    Limiter
	Mailer         Mailer
	Audit          Auditor
	Redis          *redis.Client
	Config         config.Config
	Hasher         auth.PasswordHasher
	trustedProxies []net.IPNet
	providers      map[string]*oauthProviderClient
}

func NewServer(cfg config.Config, users auth.Store, reconciler *auth.Reconciler, tokens *auth.TokenCodec, rl Limiter, redisClient *redis.Client, mailer Mailer, audit Auditor, hasher auth.PasswordHasher) *Server {
	return &Server{
		Users:          users,
		Reconciler:     reconciler,
		Tokens:         tokens,
		RateLimiter:    rl,
		Mailer:         mailer,
		Audit:          audit,
		Redis:          redisClient,
		Config:         cfg,
		Hasher:         hasher,
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
		providers:      buildOAuthProviders(cfg),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "", log.Flags()),
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/register"))).Post("/auth/register", s.handleRegister)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/login"))).Post("/auth/login", s.handleLogin)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/logout"))).Post("/auth/logout", s.handleLogout)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/verify/email"))).Post("/auth/verify/email", s.handleSendVerification)
	r.With(s.requireRoles(accessRoles(http.MethodGet, "/auth/verify/email"))).Get("/auth/verify/email", s.handleConfirmVerification)

	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/forgot-password"))).Post("/auth/forgot-password", s.handleForgotPassword)
	r.With(s.requireRoles(accessRoles(http.MethodPost, "/auth/reset-password"))).Post("/auth/reset-password", s.handleResetPassword)

	r.With(s.requireRoles(accessRoles(http.MethodGet, "/auth/oauth/{provider}/start"))).Get("/auth/oauth/{provider}/start", s.handleOAuthStart)
	r.With(s.requireRoles(accessRoles(http.MethodGet, "/auth/oauth/{provider}/callback"))).Get("/auth/oauth/{provider}/callback", s.handleOAuthCallback)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireSession)

		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/auth/user/me"))).Get("/auth/user/me", s.handleMe)
		pr.With(s.requireRoles(accessRoles(http.MethodPut, "/auth/user"))).Put("/auth/user", s.handleSetPassword)
		pr.With(s.requireRoles(accessRoles(http.MethodGet, "/auth/admin/users"))).Get("/auth/admin/users", s.handleListUsers)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(s.redirectAnonymous)

		pr.Get("/protected", s.handleProtected)
		pr.Get("/protected/*", s.handleProtected)
	})

	return r
}
