package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strings"

	"theological-agent/internal/config"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	// DevReviewer is the identity attached to requests when authentication is
	// bypassed in the DEV environment.
	DevReviewer = "dev@localhost"

	sessionCookie = "ta_session"
	stateCookie   = "ta_oauth_state"
)

var (
	errNoCredentials = errors.New("no credentials")
	errNoEmail       = errors.New("token carries no reviewer email")
)

// Reviewer is the authenticated caller of the review endpoints.
type Reviewer struct {
	Email  string
	Scopes []string
}

// HasScope reports whether the reviewer was granted scope.
func (r Reviewer) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}

type reviewerKey struct{}

// WithReviewer returns a context carrying a reviewer holding every review
// scope. Interactive sessions and the DEV bypass authenticate this way.
func WithReviewer(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, reviewerKey{}, Reviewer{Email: email, Scopes: ReviewScopes})
}

func withScopedReviewer(ctx context.Context, r Reviewer) context.Context {
	return context.WithValue(ctx, reviewerKey{}, r)
}

// ReviewerFromContext returns the authenticated reviewer email, if any.
func ReviewerFromContext(ctx context.Context) (string, bool) {
	r, ok := ctx.Value(reviewerKey{}).(Reviewer)
	return r.Email, ok && r.Email != ""
}

// HasScope reports whether the reviewer in ctx was granted scope. It is false
// when the context carries no reviewer.
func HasScope(ctx context.Context, scope string) bool {
	r, ok := ctx.Value(reviewerKey{}).(Reviewer)
	return ok && r.HasScope(scope)
}

// Auth performs OpenID Connect authentication of reviewers against an Okta
// authorization server. Browser sessions use the authorization code flow and
// keep the ID token in a cookie; API clients send an access token whose scp
// claim limits what they may do.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	devMode      bool
	authBypass   bool
}

// New creates an Auth from the application configuration. Outside the DEV
// bypass it discovers the provider and fails on incomplete settings.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	a := &Auth{
		logger:     logger,
		devMode:    cfg.IsDev(),
		authBypass: cfg.IsDev() && cfg.DevModeBypass,
	}
	if a.authBypass {
		return a, nil
	}

	if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, err
	}

	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       []string{ScopeOpenID, ScopeEmail},
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// Access tokens carry the authorization server audience, not the client id.
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return a, nil
}

// Bypassed reports whether authentication is disabled.
func (a *Auth) Bypassed() bool { return a.authBypass }

// LoginHandler starts the authorization code flow. The state value travels in
// a short-lived cookie.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	a.setCookie(w, stateCookie, state, 600)
	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler completes the authorization code flow and stores the
// verified ID token as the session.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/docs", http.StatusSeeOther)
		return
	}

	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" {
		a.logError("login_rejected", "error", idpErr, "description", q.Get("error_description"))
		http.Error(w, "login rejected: "+idpErr, http.StatusUnauthorized)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || q.Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	a.setCookie(w, stateCookie, "", -1)

	token, err := a.oauth2Config.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		a.logError("token_exchange_failed", "error", err)
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}
	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	a.setCookie(w, sessionCookie, rawIDToken, 0)
	http.Redirect(w, r, "/docs", http.StatusSeeOther)
}

// LogoutHandler clears the session.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	a.setCookie(w, sessionCookie, "", -1)
	http.Redirect(w, r, "/docs", http.StatusSeeOther)
}

// RequireAuth rejects requests without a valid bearer token or session and
// stores the reviewer in the request context. Browsers without a session are
// sent to the login page.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), DevReviewer)))
			return
		}

		reviewer, err := a.reviewerFromRequest(r)
		switch {
		case errors.Is(err, errNoCredentials):
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		case err != nil:
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		if a.logger != nil {
			a.logger.Debug("reviewer_authenticated", "email", reviewer.Email, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r.WithContext(withScopedReviewer(r.Context(), reviewer)))
	})
}

// RequireScope rejects requests whose reviewer lacks scope. It must run
// after RequireAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ReviewerFromContext(r.Context()); !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if !HasScope(r.Context(), scope) {
				http.Error(w, "missing scope "+scope, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Auth) reviewerFromRequest(r *http.Request) (Reviewer, error) {
	var claims struct {
		Email  string   `json:"email"`
		Scopes []string `json:"scp"`
	}

	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token, err := a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return Reviewer{}, err
		}
		if err := token.Claims(&claims); err != nil {
			return Reviewer{}, err
		}
		if !strings.Contains(claims.Email, "@") {
			return Reviewer{}, errNoEmail
		}
		return Reviewer{Email: claims.Email, Scopes: claims.Scopes}, nil
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return Reviewer{}, errNoCredentials
	}
	token, err := a.verifier.Verify(r.Context(), cookie.Value)
	if err != nil {
		return Reviewer{}, err
	}
	if err := token.Claims(&claims); err != nil {
		return Reviewer{}, err
	}
	if !strings.Contains(claims.Email, "@") {
		return Reviewer{}, errNoEmail
	}
	return Reviewer{Email: claims.Email, Scopes: ReviewScopes}, nil
}

func (a *Auth) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !a.devMode,
	})
}

func (a *Auth) logError(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Error(msg, args...)
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
