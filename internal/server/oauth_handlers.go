package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"authsvc/internal/auth"
	"authsvc/internal/config"
	"authsvc/internal/i18n"
)

const oauthStatePrefix = "oauth_state:"
const oauthStateTTL = 10 * time.Minute
const oauthDefaultReturnTo = "/protected"

type oauthState struct {
	Provider string `json:"provider"`
	ReturnTo string `json:"returnTo"`
}

type oauthProviderClient struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string
}

// oauthUserInfo is the OpenID Connect userinfo shape both configured
// providers return.
type oauthUserInfo struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

func buildOAuthProviders(cfg config.Config) map[string]*oauthProviderClient {
	providers := map[string]*oauthProviderClient{}

	if cfg.OAuth.Google.Enabled() {
		providers["google"] = &oauthProviderClient{
			name: "google",
			conf: &oauth2.Config{
				ClientID:     cfg.OAuth.Google.ClientID,
				ClientSecret: cfg.OAuth.Google.ClientSecret,
				RedirectURL:  cfg.OAuth.Google.RedirectURL,
				Endpoint:     google.Endpoint,
				Scopes:       []string{"openid", "email", "profile"},
			},
			userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		}
	}

	if cfg.OAuth.Auth0.Enabled() {
		issuer := strings.TrimRight(cfg.OAuth.Auth0.Issuer, "/")
		providers["auth0"] = &oauthProviderClient{
			name: "auth0",
			conf: &oauth2.Config{
				ClientID:     cfg.OAuth.Auth0.ClientID,
				ClientSecret: cfg.OAuth.Auth0.ClientSecret,
				RedirectURL:  cfg.OAuth.Auth0.RedirectURL,
				Endpoint: oauth2.Endpoint{
					AuthURL:  issuer + "/authorize",
					TokenURL: issuer + "/oauth/token",
				},
				Scopes: []string{"openid", "email", "profile"},
			},
			userInfoURL: issuer + "/userinfo",
		}
	}

	return providers
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	p := s.providers[provider]
	returnTo := sanitizeReturnTo(r.URL.Query().Get("returnTo"), oauthDefaultReturnTo)

	if p == nil {
		log.Printf("oauth start: provider %s not configured", provider)
		s.signinErrorRedirect(w, r, "provider_unavailable")
		return
	}

	state := uuid.NewString()
	raw, _ := json.Marshal(oauthState{Provider: provider, ReturnTo: returnTo})
	if err := s.Redis.Set(r.Context(), oauthStatePrefix+state, raw, oauthStateTTL).Err(); err != nil {
		log.Printf("oauth start: failed to persist state for provider %s: %v", provider, err)
		s.signinErrorRedirect(w, r, "state_persist_failed")
		return
	}

	http.Redirect(w, r, p.conf.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	p := s.providers[provider]
	locale := i18n.LocaleFromRequest(r)
	if p == nil {
		log.Printf("oauth callback: unsupported provider %s", provider)
		s.signinErrorRedirect(w, r, "unsupported_provider")
		return
	}

	// Providers report consent denial via an error parameter instead of a code.
	if reason := r.URL.Query().Get("error"); reason != "" {
		log.Printf("oauth callback: provider %s returned error %s", provider, reason)
		s.audit(r, auth.AuditOAuthDenied, "", "", map[string]interface{}{"provider": provider, "reason": reason})
		s.signinErrorRedirect(w, r, "access_denied")
		return
	}

	stateParam := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if stateParam == "" || code == "" {
		log.Printf("oauth callback: missing state/code for provider %s", provider)
		s.signinErrorRedirect(w, r, "missing_state")
		return
	}

	rawState, err := s.Redis.Get(r.Context(), oauthStatePrefix+stateParam).Bytes()
	if err != nil {
		log.Printf("oauth callback: state lookup failed for provider %s: %v", provider, err)
		s.signinErrorRedirect(w, r, "state_invalid")
		return
	}
	_ = s.Redis.Del(r.Context(), oauthStatePrefix+stateParam).Err()

	var st oauthState
	_ = json.Unmarshal(rawState, &st)
	returnTo := sanitizeReturnTo(st.ReturnTo, oauthDefaultReturnTo)
	if st.Provider != provider {
		log.Printf("oauth callback: state mismatch expected %s got %s", st.Provider, provider)
		s.signinErrorRedirect(w, r, "state_mismatch")
		return
	}

	ctx := r.Context()
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		log.Printf("oauth callback: token exchange failed for %s: %v", provider, err)
		s.signinErrorRedirect(w, r, "token_exchange_failed")
		return
	}

	info, err := fetchUserInfo(ctx, p, tok)
	if err != nil {
		log.Printf("oauth callback: fetch user failed for %s: %v", provider, err)
		s.signinErrorRedirect(w, r, "profile_fetch_failed")
		return
	}

	user, err := s.Reconciler.ReconcileOAuth(ctx, auth.Identity{
		Email: info.Email,
		Name:  info.Name,
		Image: info.Picture,
	}, oauthAssertion(p.name, info.Sub, tok))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoIdentity):
			s.signinErrorRedirect(w, r, "email_required")
		case errors.Is(err, auth.ErrIdentityRejected), errors.Is(err, auth.ErrAssertionRejected):
			log.Printf("oauth callback: assertion rejected for %s: %v", provider, err)
			s.signinErrorRedirect(w, r, "profile_rejected")
		default:
			log.Printf("oauth callback: reconcile failed for %s: %v", provider, err)
			s.signinErrorRedirect(w, r, "signin_failed")
		}
		return
	}

	sess, err := s.Reconciler.Hydrate(ctx, user.Email)
	if err != nil {
		log.Printf("oauth callback: hydrate failed for user %s: %v", user.ID, err)
		s.signinErrorRedirect(w, r, "signin_failed")
		return
	}

	token, err := s.Tokens.Mint(*sess)
	if err != nil {
		log.Printf("oauth callback: token mint failed for user %s: %v", user.ID, err)
		s.signinErrorRedirect(w, r, "signin_failed")
		return
	}

	expires := time.Now().Add(s.Tokens.MaxAge())
	auth.SetSessionCookie(w, token, expires)
	s.audit(r, auth.AuditOAuthSignIn, user.ID, user.Email, map[string]interface{}{"provider": provider})
	_ = s.sendSignInAlert(r, user.Email, locale)

	http.Redirect(w, r, returnTo, http.StatusFound)
}

func fetchUserInfo(ctx context.Context, p *oauthProviderClient, tok *oauth2.Token) (*oauthUserInfo, error) {
	resp, err := p.conf.Client(ctx, tok).Get(p.userInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	var info oauthUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo missing subject")
	}
	return &info, nil
}

func oauthAssertion(provider, subject string, tok *oauth2.Token) auth.AccountAssertion {
	assertion := auth.AccountAssertion{
		Provider:          provider,
		ProviderAccountID: subject,
	}
	if tok.AccessToken != "" {
		v := tok.AccessToken
		assertion.AccessToken = &v
	}
	if tok.TokenType != "" {
		v := tok.TokenType
		assertion.TokenType = &v
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		assertion.IDToken = &idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		assertion.Scope = &scope
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		assertion.ExpiresAt = &expiry
	}
	return assertion
}

// signinErrorRedirect bounces a failed OAuth attempt back to the sign-in
// page with a machine-readable reason.
func (s *Server) signinErrorRedirect(w http.ResponseWriter, r *http.Request, reason string) {
	target := s.Config.BaseURL + "/auth/signin"
	if reason != "" {
		target += "?error=" + url.QueryEscape(reason)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
