// Package oidc adapts a Keycloak realm into the identity session source:
// password sign-in, refresh-token renewal, ID token verification and
// back-channel logout.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/pkg/logger"
)

// ErrSessionMismatch is returned when a logout token names another session.
var ErrSessionMismatch = errors.New("logout token does not match the signed-in user")

// Source is an identity.Source backed by an OIDC provider's token endpoint.
type Source struct {
	hub       *identity.Hub
	oauth     *oauth2.Config
	verifier  TokenVerifier
	logoutURL string
	http      *http.Client

	mu      sync.Mutex
	token   *oauth2.Token
	idToken string
	user    *identity.User
}

type SourceOption func(*Source)

// WithLogoutURL sets the end-session endpoint called on SignOut.
func WithLogoutURL(u string) SourceOption {
	return func(s *Source) { s.logoutURL = u }
}

// WithHTTPClient sets the client used for token and logout calls.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) { s.http = c }
}

func NewSource(cfg *oauth2.Config, verifier TokenVerifier, opts ...SourceOption) *Source {
	s := &Source{hub: identity.NewHub(), oauth: cfg, verifier: verifier, http: http.DefaultClient}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewKeycloakSource discovers the realm and builds a source for clientID.
// With insecure set, discovery is skipped and ID token signatures are not checked.
func NewKeycloakSource(ctx context.Context, issuer, clientID, clientSecret string, insecure bool) (*Source, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	base := strings.TrimRight(issuer, "/") + "/protocol/openid-connect"
	if insecure {
		logger.Warnf("ALLOW_INSECURE_TOKEN=true: ID token signatures are not verified")
		cfg.Endpoint = oauth2.Endpoint{TokenURL: base + "/token", AuthStyle: oauth2.AuthStyleInParams}
		return NewSource(cfg, NewInsecureVerifier(), WithLogoutURL(base+"/logout")), nil
	}
	v, err := NewVerifier(ctx, issuer, clientID)
	if err != nil {
		return nil, err
	}
	cfg.Endpoint = v.Provider().Endpoint()
	return NewSource(cfg, v, WithLogoutURL(base+"/logout")), nil
}

func (s *Source) Subscribe(ctx context.Context) <-chan identity.Event {
	return s.hub.Subscribe(ctx)
}

// Verifier returns the verifier ID tokens are checked with.
func (s *Source) Verifier() TokenVerifier { return s.verifier }

// Resolve reports that no session exists yet.
func (s *Source) Resolve() {
	s.hub.Publish(identity.Event{Kind: identity.AuthStateChanged})
}

// SignIn exchanges username and password for tokens and signs the user in.
func (s *Source) SignIn(ctx context.Context, username, password string) (*identity.User, error) {
	tok, err := s.oauth.PasswordCredentialsToken(s.clientContext(ctx), username, password)
	if err != nil {
		return nil, classify("password grant", err)
	}
	raw, claims, err := s.verifyIDToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	u := identity.UserFromClaims(claims)
	if u == nil {
		return nil, errors.New("id token has no subject")
	}

	s.mu.Lock()
	s.token, s.idToken, s.user = tok, raw, u
	s.mu.Unlock()

	logger.Infof("oidc: signed in %s", u.UID)
	s.hub.Publish(identity.Event{Kind: identity.AuthStateChanged, User: u})
	s.hub.Publish(identity.Event{Kind: identity.TokenChanged, User: u})
	return u, nil
}

func (s *Source) IDTokenResult(ctx context.Context, forceRefresh bool) (*identity.TokenResult, error) {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil, identity.ErrNoIdentity
	}
	if !forceRefresh {
		raw := s.idToken
		s.mu.Unlock()
		return identity.DecodeToken(raw)
	}
	refresh := s.token.RefreshToken
	uid := s.user.UID
	s.mu.Unlock()

	ts := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refresh})
	tok, err := ts.Token()
	if err != nil {
		return nil, classify("refresh", err)
	}
	raw, claims, err := s.verifyIDToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	u := identity.UserFromClaims(claims)
	if u == nil || u.UID != uid {
		return nil, fmt.Errorf("refreshed id token belongs to another subject")
	}

	s.mu.Lock()
	if s.user == nil || s.user.UID != uid {
		s.mu.Unlock()
		return nil, identity.ErrNoIdentity
	}
	s.token, s.idToken, s.user = tok, raw, u
	s.mu.Unlock()

	s.hub.Publish(identity.Event{Kind: identity.TokenChanged, User: u})
	return identity.DecodeToken(raw)
}

// SignOut ends the provider session when possible and always clears the
// local one.
func (s *Source) SignOut(ctx context.Context) error {
	s.mu.Lock()
	tok := s.token
	had := s.user != nil
	s.token, s.idToken, s.user = nil, "", nil
	s.mu.Unlock()

	if had && tok != nil && s.logoutURL != "" {
		if err := s.endSession(ctx, tok.RefreshToken); err != nil {
			logger.Warnf("oidc: end session failed: %v", err)
		}
	}
	s.hub.Publish(identity.Event{Kind: identity.AuthStateChanged})
	return nil
}

// BackchannelLogout handles a provider-initiated logout for the signed-in user.
func (s *Source) BackchannelLogout(ctx context.Context, logoutToken string) error {
	claims, err := s.verifier.Verify(ctx, logoutToken)
	if err != nil {
		return fmt.Errorf("verify logout token: %w", err)
	}
	if _, ok := claims["events"].(map[string]interface{}); !ok {
		return errors.New("logout token has no events claim")
	}
	sub, _ := claims["sub"].(string)

	s.mu.Lock()
	match := s.user != nil && sub != "" && s.user.UID == sub
	if match {
		s.token, s.idToken, s.user = nil, "", nil
	}
	s.mu.Unlock()
	if !match {
		return ErrSessionMismatch
	}
	logger.Infof("oidc: back-channel logout for %s", sub)
	s.hub.Publish(identity.Event{Kind: identity.AuthStateChanged})
	return nil
}

func (s *Source) verifyIDToken(ctx context.Context, tok *oauth2.Token) (string, map[string]interface{}, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return "", nil, errors.New("token response has no id_token")
	}
	claims, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return "", nil, fmt.Errorf("verify id token: %w", err)
	}
	return raw, claims, nil
}

func (s *Source) endSession(ctx context.Context, refreshToken string) error {
	form := url.Values{"client_id": {s.oauth.ClientID}, "refresh_token": {refreshToken}}
	if s.oauth.ClientSecret != "" {
		form.Set("client_secret", s.oauth.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Source) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.http)
}

// classify marks provider 5xx responses and transport failures as transient.
func classify(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return identity.Transient(fmt.Errorf("%s: %w", op, err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return identity.Transient(fmt.Errorf("%s: %w", op, err))
}
