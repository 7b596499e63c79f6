package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"handytoknow/internal/apperr"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleIssuer    = "https://accounts.google.com"
	stateCookieName = "oauth_state"
)

// googleSignIn lets configured admin emails sign in with Google. The OIDC
// provider is discovered on first use.
type googleSignIn struct {
	oauth    *oauth2.Config
	clientID string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func newGoogleSignIn(cfg Config) *googleSignIn {
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" || cfg.GoogleRedirectURL == "" {
		return nil
	}
	return &googleSignIn{
		clientID: cfg.GoogleClientID,
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

func (g *googleSignIn) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifier != nil {
		return g.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, err
	}
	g.verifier = provider.Verifier(&oidc.Config{ClientID: g.clientID})
	return g.verifier, nil
}

type googleIDClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *googleSignIn) verify(ctx context.Context, rawIDToken string) (*googleIDClaims, error) {
	verifier, err := g.idTokenVerifier(ctx)
	if err != nil {
		return nil, errors.New("failed to init google oidc provider")
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.New("invalid id_token")
	}
	var claims googleIDClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.New("failed to decode token claims")
	}
	if claims.Email == "" || claims.Sub == "" {
		return nil, errors.New("token missing required claims")
	}
	if !claims.EmailVerified {
		return nil, errors.New("google email is not verified")
	}
	return &claims, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (h *Handler) allowedAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range h.cfg.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

// GET /auth/google
func (h *Handler) GoogleStart(c *gin.Context) {
	if h.google == nil {
		apperr.Respond(c, apperr.NotFound("Google sign-in is not configured"))
		return
	}
	state, err := randomState()
	if err != nil {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "Failed to generate state", Err: err})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, 300, "/", "", h.cfg.SecureCookies, true)
	c.Redirect(http.StatusFound, h.google.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline))
}

// GET /auth/google/callback
func (h *Handler) GoogleCallback(c *gin.Context) {
	if h.google == nil {
		apperr.Respond(c, apperr.NotFound("Google sign-in is not configured"))
		return
	}
	state := c.Query("state")
	code := c.Query("code")
	if code == "" || state == "" {
		apperr.Respond(c, apperr.Validation("Missing code/state", nil))
		return
	}
	cookieState, err := c.Cookie(stateCookieName)
	if err != nil || cookieState != state {
		apperr.Respond(c, apperr.Validation("Invalid oauth state", nil))
		return
	}
	c.SetCookie(stateCookieName, "", -1, "/", "", h.cfg.SecureCookies, true)

	ctx := c.Request.Context()
	tok, err := h.google.oauth.Exchange(ctx, code)
	if err != nil {
		apperr.Respond(c, apperr.Auth("Failed to exchange code"))
		return
	}
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		apperr.Respond(c, apperr.Auth("Missing id_token"))
		return
	}

	claims, err := h.google.verify(ctx, rawIDToken)
	if err != nil {
		apperr.Respond(c, apperr.Auth(err.Error()))
		return
	}
	if !h.allowedAdmin(claims.Email) {
		slog.Warn("google sign-in refused", "email", claims.Email)
		apperr.Respond(c, apperr.Forbidden("Access denied"))
		return
	}

	token, err := issueAdminJWT(h.cfg.JWTSecret, strings.ToLower(claims.Email), h.now())
	if err != nil {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindInternal, Message: "Could not create token", Err: err})
		return
	}
	slog.Info("admin signed in", "method", "google")

	redirect := h.cfg.GoogleFrontendRedirect
	if redirect == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
		return
	}
	c.Redirect(http.StatusFound, redirect+"#token="+url.QueryEscape(token))
}
