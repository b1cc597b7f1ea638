package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stagepass/session-service/internal/authstate"
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/route"
	"github.com/stagepass/session-service/internal/sessions"
	"github.com/stagepass/session-service/pkg/logger"
	"github.com/stagepass/session-service/pkg/middleware"
)

// Manager is the session manager surface the HTTP layer drives.
type Manager interface {
	authstate.StateReader
	Subscribe() (<-chan authstate.State, func())
	RefetchClaims(ctx context.Context) error
	SignOut(ctx context.Context) error
	RouteChanged()
	Settle(ctx context.Context) error
	ShouldRender() bool
}

// Navigator moves the client's location.
type Navigator interface {
	Current() route.Location
	Navigate(raw string)
}

// CookieReader returns the mirrored session cookie value.
type CookieReader interface {
	Value(ctx context.Context) (string, error)
}

// PasswordSignIn is implemented by identity sources that accept credentials.
type PasswordSignIn interface {
	SignIn(ctx context.Context, username, password string) (*identity.User, error)
}

// BackchannelLogout is implemented by identity sources that accept
// provider-initiated logout tokens.
type BackchannelLogout interface {
	BackchannelLogout(ctx context.Context, logoutToken string) error
}

// LoginRequest used for password-mode login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type NavigateRequest struct {
	Path string `json:"path" binding:"required"`
}

// SessionHandler exposes the session manager over HTTP.
type SessionHandler struct {
	mgr          Manager
	nav          Navigator
	cookie       CookieReader
	verifier     middleware.Verifier
	source       interface{}
	cookieSecure bool
	waitTimeout  time.Duration
}

func NewSessionHandler(mgr Manager, nav Navigator, cookie CookieReader, verifier middleware.Verifier, source interface{}, cookieSecure bool) *SessionHandler {
	return &SessionHandler{
		mgr:          mgr,
		nav:          nav,
		cookie:       cookie,
		verifier:     verifier,
		source:       source,
		cookieSecure: cookieSecure,
		waitTimeout:  5 * time.Second,
	}
}

// Register routes under /session
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/session")
	s.GET("", h.Get)
	s.POST("/login", h.Login)
	s.POST("/navigate", h.Navigate)
	s.GET("/render", h.Render)
	s.POST("/backchannel-logout", h.Backchannel)

	authed := s.Group("", middleware.SessionAuth(h.verifier))
	authed.POST("/claims/refresh", h.RefreshClaims)
	authed.POST("/signout", h.SignOut)
	authed.GET("/profile", middleware.OnlyIfLoggedIn(h.mgr), middleware.OnlyIfProfileLoaded(h.mgr), h.Profile)
	authed.GET("/stats", middleware.OnlyIfLoggedIn(h.mgr), h.Stats)
}

// Get returns the exposed session context and refreshes the token cookie.
func (h *SessionHandler) Get(c *gin.Context) {
	h.writeCookie(c)
	c.JSON(http.StatusOK, h.mgr.Snapshot())
}

// Login signs in with username and password and waits until the session
// manager has picked up the new identity.
func (h *SessionHandler) Login(c *gin.Context) {
	src, ok := h.source.(PasswordSignIn)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "password sign-in not supported by the identity source"})
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := src.SignIn(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if identity.IsTransient(err) {
			logger.Warnf("login: identity provider unavailable: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity provider unavailable"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed", "details": err.Error()})
		return
	}
	state, err := h.waitFor(c.Request.Context(), func(s authstate.State) bool {
		return s.AuthenticatedUser != nil && s.AuthenticatedUser.UID == u.UID
	})
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "session did not resolve", "details": err.Error()})
		return
	}
	if err := h.mgr.Settle(c.Request.Context()); err != nil {
		logger.Warnf("login: settle: %v", err)
	}
	h.writeCookie(c)
	c.JSON(http.StatusOK, state)
}

// RefreshClaims forces a token refresh; only non-transient failures surface.
func (h *SessionHandler) RefreshClaims(c *gin.Context) {
	if err := h.mgr.RefetchClaims(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "claims refresh failed", "details": err.Error()})
		return
	}
	if err := h.mgr.Settle(c.Request.Context()); err != nil {
		logger.Warnf("refresh claims: settle: %v", err)
	}
	h.writeCookie(c)
	c.JSON(http.StatusOK, h.mgr.Snapshot())
}

func (h *SessionHandler) SignOut(c *gin.Context) {
	if err := h.mgr.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "sign out failed", "details": err.Error()})
		return
	}
	if _, err := h.waitFor(c.Request.Context(), func(s authstate.State) bool { return s.IsLoggedOut }); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "session did not resolve", "details": err.Error()})
		return
	}
	if err := h.mgr.Settle(c.Request.Context()); err != nil {
		logger.Warnf("sign out: settle: %v", err)
	}
	h.writeCookie(c)
	c.Status(http.StatusNoContent)
}

// Navigate moves the client location and returns where the route guard left it.
func (h *SessionHandler) Navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.nav.Navigate(req.Path)
	h.mgr.RouteChanged()
	if err := h.mgr.Settle(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": h.nav.Current(), "render": h.mgr.ShouldRender()})
}

// Render reports whether content at the current location may be shown.
func (h *SessionHandler) Render(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"location": h.nav.Current(), "render": h.mgr.ShouldRender()})
}

func (h *SessionHandler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, h.mgr.Snapshot().UserData)
}

func (h *SessionHandler) Stats(c *gin.Context) {
	s := h.mgr.Snapshot()
	if s.UserStats == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, s.UserStats)
}

// Backchannel accepts an OIDC back-channel logout (form field logout_token).
func (h *SessionHandler) Backchannel(c *gin.Context) {
	src, ok := h.source.(BackchannelLogout)
	if !ok {
		c.Status(http.StatusNotImplemented)
		return
	}
	token := c.PostForm("logout_token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "logout_token required"})
		return
	}
	if err := src.BackchannelLogout(c.Request.Context(), token); err != nil {
		logger.Warnf("back-channel logout rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid logout token"})
		return
	}
	c.Status(http.StatusOK)
}

func (h *SessionHandler) writeCookie(c *gin.Context) {
	if h.cookie == nil {
		return
	}
	v, err := h.cookie.Value(c.Request.Context())
	if err != nil {
		logger.Warnf("read session cookie: %v", err)
		return
	}
	maxAge := 3600
	if v == "" {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessions.CookieName, v, maxAge, "/", "", h.cookieSecure, true)
}

// waitFor blocks until the manager's state satisfies ok.
func (h *SessionHandler) waitFor(ctx context.Context, ok func(authstate.State) bool) (authstate.State, error) {
	ctx, cancel := context.WithTimeout(ctx, h.waitTimeout)
	defer cancel()
	updates, stop := h.mgr.Subscribe()
	defer stop()
	for {
		select {
		case s, open := <-updates:
			if !open {
				return authstate.State{}, errors.New("session manager stopped")
			}
			if ok(s) {
				return s, nil
			}
		case <-ctx.Done():
			return authstate.State{}, ctx.Err()
		}
	}
}
